/*
Package client provides a Go client library for herald's Assistant gRPC API.

The client hides the Struct encoding used on the wire: callers pass and
receive the same Go types the server uses (chat.Message, chat.Reply,
scheduler.ReminderRequest, scheduler.Result, types.Reminder).

	c, err := client.NewClient("127.0.0.1:7070")
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.ScheduleReminder(ctx, scheduler.ReminderRequest{
		UserID:          "u1",
		TaskDescription: "Stand-up",
		Time:            "09:30",
		Recurrence:      &types.Recurrence{Type: types.RecurrenceDaily},
	})

	err = c.Subscribe(ctx, "u1", func(ev client.Event) error {
		fmt.Println(ev.Type, string(ev.Payload))
		return nil
	})

Connections are plaintext. Status errors from the server (NotFound,
InvalidArgument) are returned unchanged and can be inspected with
google.golang.org/grpc/status.
*/
package client
