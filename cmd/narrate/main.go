package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/narralabs/narra-core/internal/protocol"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'read', 'cancel' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "read":
		readCmd := flag.NewFlagSet("read", flag.ExitOnError)
		server := readCmd.String("server", nats.DefaultURL, "NATS server URL")
		speaker := readCmd.String("speaker", "", "Override the stored speaker for this request")
		file := readCmd.String("file", "", "Read text from file instead of stdin")
		timeout := readCmd.Duration("timeout", 10*time.Minute, "Give up after this long")
		readCmd.Parse(os.Args[2:])
		if err := runRead(*server, *speaker, *file, *timeout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "cancel":
		cancelCmd := flag.NewFlagSet("cancel", flag.ExitOnError)
		server := cancelCmd.String("server", nats.DefaultURL, "NATS server URL")
		requestID := cancelCmd.String("request", "", "Request to cancel (empty cancels the active one)")
		cancelCmd.Parse(os.Args[2:])
		if err := runCancel(*server, *requestID); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runRead(server, speaker, file string, timeout time.Duration) error {
	text, err := readText(file)
	if err != nil {
		return err
	}
	if len(text) == 0 {
		return fmt.Errorf("no text to read")
	}

	nc, err := nats.Connect(server, nats.Name("narrate"))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", server, err)
	}
	defer nc.Close()

	requestID := newRequestID()

	statusCh := make(chan protocol.ReadStatus, 16)
	subStatus, err := nc.Subscribe(protocol.SubjectReadStatus, func(msg *nats.Msg) {
		var status protocol.ReadStatus
		if json.Unmarshal(msg.Data, &status) == nil && status.RequestID == requestID {
			statusCh <- status
		}
	})
	if err != nil {
		return err
	}
	defer subStatus.Unsubscribe()

	subProgress, err := nc.Subscribe(protocol.SubjectReadProgress, func(msg *nats.Msg) {
		var progress protocol.ReadProgress
		if json.Unmarshal(msg.Data, &progress) == nil && progress.RequestID == requestID {
			fmt.Printf("segment %d/%d synthesized\n", progress.Index+1, progress.Total)
		}
	})
	if err != nil {
		return err
	}
	defer subProgress.Unsubscribe()

	req := protocol.ReadRequest{RequestID: requestID, Text: string(text), Speaker: speaker}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := nc.Publish(protocol.SubjectReadRequest, data); err != nil {
		return fmt.Errorf("publish request: %w", err)
	}
	fmt.Printf("request %s submitted (%d bytes of text)\n", requestID, len(text))

	deadline := time.After(timeout)
	for {
		select {
		case status := <-statusCh:
			switch status.State {
			case protocol.StateSpeaking:
				fmt.Println("speaking")
			case protocol.StateDone:
				fmt.Printf("done (%d segments)\n", status.Segments)
				return nil
			case protocol.StateCancelled:
				fmt.Println("cancelled")
				return nil
			case protocol.StateBusy:
				return fmt.Errorf("rejected: %s", status.Error)
			case protocol.StateError:
				return fmt.Errorf("read failed: %s", status.Error)
			}
		case <-deadline:
			return fmt.Errorf("timed out after %s waiting for request %s", timeout, requestID)
		}
	}
}

func runCancel(server, requestID string) error {
	nc, err := nats.Connect(server, nats.Name("narrate"))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", server, err)
	}
	defer nc.Close()

	data, err := json.Marshal(protocol.CancelRequest{RequestID: requestID})
	if err != nil {
		return err
	}
	if err := nc.Publish(protocol.SubjectReadCancel, data); err != nil {
		return fmt.Errorf("publish cancel: %w", err)
	}
	return nc.Flush()
}

func readText(file string) ([]byte, error) {
	if file != "" {
		return os.ReadFile(file)
	}
	return io.ReadAll(os.Stdin)
}

func newRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
