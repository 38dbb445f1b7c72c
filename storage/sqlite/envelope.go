package sqlite

import (
	"fmt"
	"time"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/samber/mo"
	"github.com/vmihailenco/msgpack/v5"
)

const envelopeVersion = 1

// inviteEnvelope wraps one invite version. The invite itself is kept as
// iCalendar text so stored rows stay readable by calendar tooling.
type inviteEnvelope struct {
	Version int    `msgpack:"v"`
	ICS     []byte `msgpack:"ics"`
	Content []byte `msgpack:"content,omitempty"`
}

type replyEnvelope struct {
	Version     int       `msgpack:"v"`
	HasRecurID  bool      `msgpack:"has_rid,omitempty"`
	RecurID     time.Time `msgpack:"rid,omitempty"`
	RecurAllDay bool      `msgpack:"rid_all_day,omitempty"`
	Address     string    `msgpack:"address"`
	CommonName  string    `msgpack:"cn,omitempty"`
	Role        string    `msgpack:"role,omitempty"`
	PartStat    string    `msgpack:"partstat"`
	Sequence    int       `msgpack:"seq"`
	DTStamp     time.Time `msgpack:"dtstamp"`
}

func encodeInvite(inv itip.Invite, content []byte) ([]byte, error) {
	ics, err := itip.Encode(itip.NewCalendar(inv.Method, inv))
	if err != nil {
		return nil, err
	}
	b, err := msgpack.Marshal(inviteEnvelope{Version: envelopeVersion, ICS: ics, Content: content})
	if err != nil {
		return nil, fmt.Errorf("marshal invite envelope: %w", err)
	}
	return b, nil
}

func decodeInvite(b []byte) (itip.Invite, error) {
	var env inviteEnvelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return itip.Invite{}, fmt.Errorf("unmarshal invite envelope: %w", err)
	}
	_, invites, err := itip.Decode(env.ICS)
	if err != nil {
		return itip.Invite{}, err
	}
	if len(invites) != 1 {
		return itip.Invite{}, fmt.Errorf("invite envelope holds %d components", len(invites))
	}
	return invites[0], nil
}

func encodeReply(rec itip.ReplyRecord) ([]byte, error) {
	env := replyEnvelope{
		Version:    envelopeVersion,
		Address:    rec.Address,
		CommonName: rec.CommonName,
		Role:       string(rec.Role),
		PartStat:   string(rec.PartStat),
		Sequence:   rec.Sequence,
		DTStamp:    rec.DTStamp,
	}
	if rid, ok := rec.RecurID.Get(); ok {
		env.HasRecurID, env.RecurID, env.RecurAllDay = true, rid.Time, rid.AllDay
	}
	b, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal reply envelope: %w", err)
	}
	return b, nil
}

func decodeReply(b []byte) (itip.ReplyRecord, error) {
	var env replyEnvelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return itip.ReplyRecord{}, fmt.Errorf("unmarshal reply envelope: %w", err)
	}
	rec := itip.ReplyRecord{
		Address:    env.Address,
		CommonName: env.CommonName,
		Role:       itip.Role(env.Role),
		PartStat:   itip.PartStat(env.PartStat),
		Sequence:   env.Sequence,
		DTStamp:    env.DTStamp,
	}
	if env.HasRecurID {
		rec.RecurID = mo.Some(itip.NewRecurID(env.RecurID, env.RecurAllDay))
	}
	return rec, nil
}
