package main

import (
	"fmt"
	"time"

	"github.com/TheKrystalShip/kgsm/events"
)

// EventsCmd implements `events <--status|--emit <payload>|--socket
// …|--webhook …>` (spec.md §6, §4.6 "test mode").
type EventsCmd struct {
	Status  bool   `help:"print every key=value pair set in the config store"`
	Emit    string `help:"emit a test event of the given EventType through the configured dispatcher"`
	Socket  bool   `help:"spawn an ephemeral socket listener, emit a probe event, and verify reception"`
	Webhook bool   `help:"post a probe event to an ephemeral local test webhook server and report whether it arrived; the configured webhook URLs are not contacted"`
}

func (c *EventsCmd) Run(cctx *Context) error {
	dctx := cctx.kgsm

	switch {
	case c.Socket:
		return c.runSocketProbe(cctx)
	case c.Webhook:
		return c.runWebhookProbe(cctx)
	case c.Emit != "":
		err := dctx.Dispatcher.Emit(events.EventType(c.Emit), events.InstanceData{InstanceName: "probe"})
		if err != nil {
			return err
		}
		fmt.Printf("emitted %s\n", c.Emit)
		return nil
	default: // --status
		cfg, err := dctx.Config.List()
		if err != nil {
			return err
		}
		for _, line := range cfg {
			fmt.Println(line)
		}
		return nil
	}
}

func (c *EventsCmd) runSocketProbe(cctx *Context) error {
	socketName, err := cctx.kgsm.Config.GetDefault("event_socket_filename")
	if err != nil || socketName == "" {
		socketName = "kgsm.sock"
	}
	path := cctx.kgsm.Root + "/" + socketName

	listener, err := events.NewTestSocketListener(path)
	if err != nil {
		return err
	}
	defer listener.Close()

	go func() {
		_ = cctx.kgsm.Dispatcher.Emit(events.EventType("test_probe"), events.InstanceData{InstanceName: "probe"})
	}()

	env, err := listener.AcceptOne(5 * time.Second)
	if err != nil {
		fmt.Printf("socket test FAILED: %v\n", err)
		return nil
	}
	fmt.Printf("socket test OK: received %s\n", env.EventType)
	return nil
}

func (c *EventsCmd) runWebhookProbe(cctx *Context) error {
	srv := events.NewTestWebhookServer()
	defer srv.Close()

	transport := events.NewWebhookTransport([]string{srv.URL}, "", 5*time.Second, 1, "test")
	err := transport.Emit(events.Envelope{
		EventType: "test_probe",
		Data:      events.InstanceData{InstanceName: "probe"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		fmt.Printf("webhook test FAILED: %v\n", err)
		return nil
	}

	select {
	case env := <-srv.Received:
		fmt.Printf("webhook test OK: %s received %s\n", srv.URL, env.EventType)
	case <-time.After(5 * time.Second):
		fmt.Printf("webhook test FAILED: %s never received the probe\n", srv.URL)
	}
	return nil
}
