package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cyp0633/caldora-sched/directory"
	clog "github.com/cyp0633/caldora-sched/internal/log"
	"github.com/cyp0633/caldora-sched/internal/wire"
	"github.com/cyp0633/caldora-sched/itip"
	"github.com/cyp0633/caldora-sched/mail"
	"github.com/cyp0633/caldora-sched/mail/natsmail"
	"github.com/cyp0633/caldora-sched/scheduling"
	"github.com/cyp0633/caldora-sched/storage"
	"github.com/cyp0633/caldora-sched/storage/memory"
	"github.com/cyp0633/caldora-sched/storage/sqlite"
	"github.com/samber/mo"
	"github.com/urfave/cli/v2"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "db", EnvVars: []string{"CALDORA_DB"}, Usage: "SQLite database file. Empty keeps items in memory for this run only."},
		&cli.BoolFlag{Name: "nats", EnvVars: []string{"CALDORA_USE_NATS"}, Usage: "Publish outgoing mail on NATS instead of logging it."},
		&cli.StringSliceFlag{Name: "identity", EnvVars: []string{"CALDORA_IDENTITIES"}, Usage: "Local account as id:address[:display name]. Repeatable."},
		&cli.StringSliceFlag{Name: "resource", Usage: "Id of an identity that is a calendar resource. Repeatable."},
		&cli.StringSliceFlag{Name: "grant", Usage: "Delegate grant as mailbox:grantee:read,write,action,private. Repeatable."},
		&cli.StringFlag{Name: "mailbox", Aliases: []string{"m"}, EnvVars: []string{"CALDORA_MAILBOX"}, Usage: "Id of the mailbox to act on.", Required: true},
		&cli.StringFlag{Name: "as", Usage: "Id of a delegate acting for the mailbox owner."},
		&cli.StringFlag{Name: "tz", Value: "UTC", EnvVars: []string{"CALDORA_TZ"}, Usage: "Time zone for XML times without a tz attribute."},
	}
}

// runtime is everything a command needs for one run.
type runtime struct {
	logger *slog.Logger
	engine *scheduling.Engine
	store  storage.Store
	actor  scheduling.Actor
	loc    *time.Location
	close  func()
}

func setup(c *cli.Context) (*runtime, error) {
	logger, err := clog.InitStructureLogConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	cfg, err := scheduling.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	loc, err := time.LoadLocation(c.String("tz"))
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.String("tz"), err)
	}

	dir := directory.NewStatic()
	resources := make(map[string]bool)
	for _, id := range c.StringSlice("resource") {
		resources[id] = true
	}
	idents := make(map[string]directory.Identity)
	for _, v := range c.StringSlice("identity") {
		id, err := parseIdentity(v)
		if err != nil {
			return nil, err
		}
		id.CalendarResource = resources[id.ID]
		dir.AddIdentity(id)
		idents[id.ID] = id
	}
	actor, err := actorFor(idents, c.String("mailbox"), c.String("as"))
	if err != nil {
		return nil, err
	}

	access := scheduling.NewStaticAccess()
	for _, v := range c.StringSlice("grant") {
		mailbox, grantee, rights, err := parseGrant(v)
		if err != nil {
			return nil, err
		}
		access.Grant(mailbox, grantee, rights)
	}

	var closers []func()
	var store storage.Store
	if path := c.String("db"); path != "" {
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		store = db
	} else {
		logger.Warn("no database configured, items are kept in memory")
		store = memory.New()
	}

	var sender mail.Sender = mail.LogSender{Logger: logger}
	if c.Bool("nats") {
		var natsCfg natsmail.Config
		if err := env.Parse(&natsCfg); err != nil {
			return nil, fmt.Errorf("failed to load NATS configuration: %w", err)
		}
		conn, err := natsmail.Connect(c.Context, natsCfg)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() { _ = conn.Drain() })
		sender = natsmail.NewSender(conn, natsCfg.Subject)
	}

	engine, err := scheduling.New(
		scheduling.WithStore(store),
		scheduling.WithDirectory(dir),
		scheduling.WithSender(sender),
		scheduling.WithAccess(access),
		scheduling.WithConfig(cfg),
		scheduling.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	rt := &runtime{logger: logger, engine: engine, store: store, actor: actor, loc: loc}
	rt.close = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := engine.Close(ctx); err != nil {
			logger.Warn("failed to drain organizer change notifications", "error", err)
		}
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return rt, nil
}

// parseIdentity reads id:address[:display name].
func parseIdentity(v string) (directory.Identity, error) {
	parts := strings.SplitN(v, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return directory.Identity{}, fmt.Errorf("invalid identity %q, want id:address[:display name]", v)
	}
	id := directory.Identity{ID: parts[0], Address: parts[1]}
	if len(parts) == 3 {
		id.DisplayName = parts[2]
	}
	return id, nil
}

func parseGrant(v string) (string, string, scheduling.Right, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", 0, fmt.Errorf("invalid grant %q, want mailbox:grantee:rights", v)
	}
	var rights scheduling.Right
	for _, r := range strings.Split(parts[2], ",") {
		switch strings.ToLower(strings.TrimSpace(r)) {
		case "read":
			rights |= scheduling.RightRead
		case "write":
			rights |= scheduling.RightWrite
		case "action":
			rights |= scheduling.RightAction
		case "private":
			rights |= scheduling.RightPrivate
		case "all":
			rights |= scheduling.RightAll
		default:
			return "", "", 0, fmt.Errorf("unknown right %q in grant %q", r, v)
		}
	}
	return parts[0], parts[1], rights, nil
}

func actorFor(idents map[string]directory.Identity, mailbox, as string) (scheduling.Actor, error) {
	owner, ok := idents[mailbox]
	if !ok {
		return scheduling.Actor{}, fmt.Errorf("mailbox %q is not a configured identity", mailbox)
	}
	actor := scheduling.Actor{Account: owner}
	if as != "" {
		delegate, ok := idents[as]
		if !ok {
			return scheduling.Actor{}, fmt.Errorf("delegate %q is not a configured identity", as)
		}
		actor.Authenticated = delegate
	}
	return actor, nil
}

// loadInvites reads invites from an .ics file or an XML <inv> document.
func loadInvites(path string, pc wire.Context) (itip.Method, []itip.Invite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".ics") {
		method, invites, err := itip.Decode(data)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		if len(invites) == 0 {
			return 0, nil, fmt.Errorf("no components in %s", path)
		}
		return method, invites, nil
	}
	inv, err := wire.ParseString(string(data), pc)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return inv.Method, []itip.Invite{inv}, nil
}

func loadInvite(path string, pc wire.Context) (itip.Invite, error) {
	_, invites, err := loadInvites(path, pc)
	if err != nil {
		return itip.Invite{}, err
	}
	return invites[0], nil
}

// parseRecurID accepts a DATE or UTC DATE-TIME value.
func parseRecurID(v string) (mo.Option[itip.RecurID], error) {
	if v == "" {
		return mo.None[itip.RecurID](), nil
	}
	if len(v) == len("20060102") {
		t, err := time.ParseInLocation("20060102", v, time.UTC)
		if err != nil {
			return mo.None[itip.RecurID](), fmt.Errorf("invalid recurrence id %q: %w", v, err)
		}
		return mo.Some(itip.NewRecurID(t, true)), nil
	}
	t, err := time.Parse("20060102T150405Z", v)
	if err != nil {
		return mo.None[itip.RecurID](), fmt.Errorf("invalid recurrence id %q: %w", v, err)
	}
	return mo.Some(itip.NewRecurID(t, false)), nil
}

func optionalStrings(c *cli.Context, name string) mo.Option[[]string] {
	if !c.IsSet(name) {
		return mo.None[[]string]()
	}
	return mo.Some(c.StringSlice(name))
}

func optionalInt64(c *cli.Context, name string) mo.Option[int64] {
	if !c.IsSet(name) {
		return mo.None[int64]()
	}
	return mo.Some(c.Int64(name))
}

func textFrom(c *cli.Context) scheduling.Text {
	return scheduling.Text{Subject: c.String("subject"), Notes: c.String("notes")}
}

var errNoItem = errors.New("either --item or --uid is required")
