package scheduling

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cyp0633/caldora-sched/recurrence"
)

// Config holds deployment switches of the scheduling engine.
type Config struct {
	// KeepExceptionsOnSeriesTimeChange keeps exceptions a series change
	// would orphan, instead of notifying their attendees and dropping them.
	KeepExceptionsOnSeriesTimeChange bool `env:"CALDORA_KEEP_EXCEPTIONS_ON_SERIES_TIME_CHANGE" envDefault:"false"`
	// NotifyOwnerOnDelegatedChange adds the mailbox owner to the recipients
	// when a delegate sends on their behalf.
	NotifyOwnerOnDelegatedChange bool `env:"CALDORA_NOTIFY_DELEGATED_CHANGES" envDefault:"false"`
	// ExceptionPolicy decides which exceptions a series change orphans.
	ExceptionPolicy recurrence.Policy `env:"CALDORA_EXCEPTION_POLICY" envDefault:"expansion"`
	// CheckDLMembership keeps removed attendees that are still reachable
	// through a distribution list of the new attendee list.
	CheckDLMembership bool `env:"CALDORA_CHECK_DL_MEMBERSHIP" envDefault:"true"`

	NotifierWorkers int `env:"CALDORA_NOTIFIER_WORKERS" envDefault:"2"`
	NotifierQueue   int `env:"CALDORA_NOTIFIER_QUEUE" envDefault:"64"`

	// SendRetries wraps the sender in a retrying sender when positive.
	SendRetries    int           `env:"CALDORA_SEND_RETRIES" envDefault:"0"`
	SendRetryDelay time.Duration `env:"CALDORA_SEND_RETRY_DELAY" envDefault:"200ms"`

	DefaultFolderID string `env:"CALDORA_DEFAULT_FOLDER" envDefault:"calendar"`
	// PrivateSubject replaces the subject of private items in cancellations.
	PrivateSubject string `env:"CALDORA_PRIVATE_SUBJECT" envDefault:"Private appointment"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		ExceptionPolicy:   recurrence.PolicyExpansion,
		CheckDLMembership: true,
		NotifierWorkers:   2,
		NotifierQueue:     64,
		SendRetryDelay:    200 * time.Millisecond,
		DefaultFolderID:   "calendar",
		PrivateSubject:    "Private appointment",
	}
}

// LoadConfig reads the configuration from CALDORA_* environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.NotifierWorkers < 1 {
		cfg.NotifierWorkers = 1
	}
	if cfg.NotifierQueue < 1 {
		cfg.NotifierQueue = 1
	}
	return cfg, nil
}
