package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cyp0633/caldora-sched/internal/wire"
	"github.com/cyp0633/caldora-sched/itip"
	"github.com/cyp0633/caldora-sched/scheduling"
	"github.com/cyp0633/caldora-sched/storage"
	"github.com/samber/mo"
	"github.com/urfave/cli/v2"
)

var (
	fileFlag     = &cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Invite as .ics or XML <inv> document.", Required: true}
	itemFlag     = &cli.StringFlag{Name: "item", Usage: "Calendar item id."}
	uidFlag      = &cli.StringFlag{Name: "uid", Usage: "Calendar item UID."}
	ridFlag      = &cli.StringFlag{Name: "rid", Usage: "Recurrence id of one occurrence, as 20240302 or 20240302T090000Z."}
	toFlag       = &cli.StringSliceFlag{Name: "to", Usage: "Recipient address. Repeatable. Without it every attendee is notified."}
	subjectFlag  = &cli.StringFlag{Name: "subject", Usage: "Subject of the notification."}
	notesFlag    = &cli.StringFlag{Name: "notes", Usage: "Text of the notification."}
	folderFlag   = &cli.StringFlag{Name: "folder", Usage: "Folder to store the item in."}
	textFlags    = []cli.Flag{subjectFlag, notesFlag}
	itemRefFlags = []cli.Flag{itemFlag, uidFlag}
)

func flags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// withRuntime sets up the engine around action and tears it down after.
func withRuntime(action func(c *cli.Context, rt *runtime) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.close()
		return action(c, rt)
	}
}

func (rt *runtime) wireContext(method itip.Method) wire.Context {
	return wire.Context{Method: method, Location: rt.loc}
}

// itemID resolves --item or --uid to an item id.
func (rt *runtime) itemID(c *cli.Context) (string, error) {
	if id := c.String("item"); id != "" {
		return id, nil
	}
	uid := c.String("uid")
	if uid == "" {
		return "", errNoItem
	}
	item, err := rt.store.GetCalendarItemByUID(c.Context, rt.actor.MailboxID(), uid)
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Store an invitation received from an organizer.",
		Flags: []cli.Flag{fileFlag, folderFlag},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			method, invites, err := loadInvites(c.String("file"), rt.wireContext(itip.MethodRequest))
			if err != nil {
				return err
			}
			folder := c.String("folder")
			if folder == "" {
				folder = "calendar"
			}
			var last storage.AddInviteResult
			for _, inv := range invites {
				inv.Method = method
				inv.IsOrganizer = rt.actor.Account.Matches(inv.OrganizerAddress())
				if inv.DTStamp.IsZero() {
					inv.DTStamp = time.Now().UTC().Truncate(time.Second)
				}
				last, err = rt.store.AddInvite(c.Context, rt.actor.MailboxID(), folder, inv, storage.AddInviteOptions{})
				if err != nil {
					return fmt.Errorf("failed to store %s: %w", inv.UID, err)
				}
			}
			rt.logger.Info("Imported invitation.", "calendar_item_id", last.CalendarItemID, "components", len(invites))
			return printJSON(last)
		}),
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Print the current invites of a calendar item as iCalendar.",
		Flags: itemRefFlags,
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			id, err := rt.itemID(c)
			if err != nil {
				return err
			}
			item, err := rt.store.GetCalendarItemByID(c.Context, rt.actor.MailboxID(), id)
			if err != nil {
				return err
			}
			data, err := itip.Encode(itip.NewCalendar(itip.MethodPublish, item.Current()...))
			if err != nil {
				return err
			}
			fmt.Printf("# item %s modseq %d revision %d replies %d\n", item.ID, item.ModifiedSequence, item.Revision, len(item.Replies))
			_, err = os.Stdout.Write(data)
			return err
		}),
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create an appointment and invite its attendees.",
		Flags: flags([]cli.Flag{fileFlag, folderFlag, toFlag}, textFlags),
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			inv, err := loadInvite(c.String("file"), rt.wireContext(itip.MethodPublish))
			if err != nil {
				return err
			}
			res, err := rt.engine.Create(c.Context, scheduling.CreateRequest{
				Actor:      rt.actor,
				FolderID:   c.String("folder"),
				Invite:     inv,
				Recipients: optionalStrings(c, "to"),
				Text:       textFrom(c),
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
}

func modifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "modify",
		Usage: "Change an appointment or one of its occurrences.",
		Flags: flags([]cli.Flag{fileFlag, toFlag,
			&cli.Int64Flag{Name: "modseq", Usage: "Modified sequence the change is based on."},
			&cli.Int64Flag{Name: "revision", Usage: "Revision the change is based on."},
		}, itemRefFlags, textFlags),
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			id, err := rt.itemID(c)
			if err != nil {
				return err
			}
			inv, err := loadInvite(c.String("file"), rt.wireContext(itip.MethodPublish))
			if err != nil {
				return err
			}
			res, err := rt.engine.Modify(c.Context, scheduling.ModifyRequest{
				Actor:            rt.actor,
				CalendarItemID:   id,
				Invite:           inv,
				ModifiedSequence: optionalInt64(c, "modseq"),
				Revision:         optionalInt64(c, "revision"),
				Recipients:       optionalStrings(c, "to"),
				Text:             textFrom(c),
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:  "cancel",
		Usage: "Cancel an appointment or one occurrence of it.",
		Flags: flags([]cli.Flag{ridFlag, toFlag}, itemRefFlags, textFlags),
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			rid, err := parseRecurID(c.String("rid"))
			if err != nil {
				return err
			}
			if c.String("item") == "" && c.String("uid") == "" {
				return errNoItem
			}
			res, err := rt.engine.Cancel(c.Context, scheduling.CancelRequest{
				Actor:          rt.actor,
				CalendarItemID: c.String("item"),
				UID:            c.String("uid"),
				RecurID:        rid,
				Recipients:     optionalStrings(c, "to"),
				Text:           textFrom(c),
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
}

func replyCommand() *cli.Command {
	return &cli.Command{
		Name:      "reply",
		Usage:     "Accept, decline or tentatively accept an invitation.",
		ArgsUsage: "accept|decline|tentative",
		Flags: flags([]cli.Flag{ridFlag, folderFlag,
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Reply to this received invitation instead of a stored item."},
			&cli.IntFlag{Name: "seq", Usage: "Sequence of the invitation being answered."},
			&cli.BoolFlag{Name: "notify", Value: true, Usage: "Send the reply to the organizer."},
		}, []cli.Flag{itemFlag}, textFlags),
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one verb, got %d arguments", c.NArg())
			}
			rid, err := parseRecurID(c.String("rid"))
			if err != nil {
				return err
			}
			req := scheduling.ReplyRequest{
				Actor:           rt.actor,
				Verb:            c.Args().First(),
				CalendarItemID:  c.String("item"),
				RecurID:         rid,
				FolderID:        c.String("folder"),
				UpdateOrganizer: c.Bool("notify"),
				Text:            textFrom(c),
			}
			if c.IsSet("seq") {
				req.Sequence = mo.Some(c.Int("seq"))
			}
			if path := c.String("file"); path != "" {
				inv, err := loadInvite(path, rt.wireContext(itip.MethodRequest))
				if err != nil {
					return err
				}
				req.Invite = mo.Some(inv)
			}
			res, err := rt.engine.Reply(c.Context, req)
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
}

func forwardCommand() *cli.Command {
	return &cli.Command{
		Name:  "forward",
		Usage: "Forward an appointment to people who are not invited.",
		Flags: flags([]cli.Flag{ridFlag,
			&cli.StringSliceFlag{Name: "to", Usage: "Forwardee address. Repeatable.", Required: true},
		}, itemRefFlags, textFlags),
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			rid, err := parseRecurID(c.String("rid"))
			if err != nil {
				return err
			}
			if c.String("item") == "" && c.String("uid") == "" {
				return errNoItem
			}
			return rt.engine.Forward(c.Context, scheduling.ForwardRequest{
				Actor:          rt.actor,
				CalendarItemID: c.String("item"),
				UID:            c.String("uid"),
				RecurID:        rid,
				To:             c.StringSlice("to"),
				Text:           textFrom(c),
			})
		}),
	}
}

func counterCommand() *cli.Command {
	return &cli.Command{
		Name:  "counter",
		Usage: "Propose a new time to the organizer.",
		Flags: flags([]cli.Flag{fileFlag}, textFlags),
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			inv, err := loadInvite(c.String("file"), rt.wireContext(itip.MethodCounter))
			if err != nil {
				return err
			}
			res, err := rt.engine.Counter(c.Context, scheduling.CounterRequest{Actor: rt.actor, Invite: inv, Text: textFrom(c)})
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
}

func declineCounterCommand() *cli.Command {
	return &cli.Command{
		Name:  "decline-counter",
		Usage: "Decline a proposed new time.",
		Flags: flags([]cli.Flag{fileFlag, toFlag}, textFlags),
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			inv, err := loadInvite(c.String("file"), rt.wireContext(itip.MethodDeclineCounter))
			if err != nil {
				return err
			}
			res, err := rt.engine.DeclineCounter(c.Context, scheduling.DeclineCounterRequest{
				Actor:      rt.actor,
				Invite:     inv,
				Recipients: optionalStrings(c, "to"),
				Text:       textFrom(c),
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
}

func takeoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "takeover",
		Usage: "Become the organizer of an appointment.",
		Flags: itemRefFlags,
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			if c.String("item") == "" && c.String("uid") == "" {
				return errNoItem
			}
			res, err := rt.engine.TakeOverOrganizer(c.Context, scheduling.TakeoverRequest{
				Actor:          rt.actor,
				CalendarItemID: c.String("item"),
				UID:            c.String("uid"),
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
}
