package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	ws "github.com/mjones3/architect-transcript-insights/internal/websocket"
)

var (
	simServer     string
	simSession    string
	simSpeakers   int
	simUtterances int
	simAudioFile  string
	simChunkSize  int
	simDelay      time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Stream simulated utterances to a running server",
	Long: `Connect to the server's WebSocket endpoint as one live session and
print every message it sends back.

By default the command plays a round-robin conversation between --speakers
synthetic voices, one utterance event each. With --audio the file is instead
streamed as binary chunks between listening_start and listening_end so the
configured diarizer labels it.

Examples:
  speakerid simulate --speakers 3 --utterances 9
  speakerid simulate --audio sample_audio.wav --chunk-size 32000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return simulate(cmd.OutOrStdout())
	},
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simServer, "server", "ws://localhost:8080/ws", "WebSocket endpoint")
	f.StringVar(&simSession, "session", "", "session ID (generated by the server when empty)")
	f.IntVar(&simSpeakers, "speakers", 2, "number of synthetic voices")
	f.IntVar(&simUtterances, "utterances", 6, "number of utterance events")
	f.StringVar(&simAudioFile, "audio", "", "stream this audio file instead of synthetic events")
	f.IntVar(&simChunkSize, "chunk-size", 1024, "bytes per binary audio chunk")
	f.DurationVar(&simDelay, "delay", 100*time.Millisecond, "pause between sends")
	rootCmd.AddCommand(simulateCmd)
}

func simulate(out io.Writer) error {
	if simSpeakers < 1 {
		return fmt.Errorf("--speakers must be at least 1")
	}
	if simChunkSize < 1 {
		return fmt.Errorf("--chunk-size must be at least 1")
	}

	u, err := url.Parse(simServer)
	if err != nil {
		return fmt.Errorf("parse --server: %w", err)
	}
	if simSession != "" {
		q := u.Query()
		q.Set("session_id", simSession)
		u.RawQuery = q.Encode()
	}

	fmt.Fprintf(out, "connecting to %s\n", u.String())
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Close()

	done := make(chan struct{})
	// Start a goroutine to read messages from the server
	go printIncoming(c, out, done)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	if simAudioFile != "" {
		err = streamAudio(c, out)
	} else {
		err = sendUtterances(c, out)
	}
	if err != nil {
		return err
	}

	// Give the server time to answer, then close cleanly.
	select {
	case <-done:
		return nil
	case <-interrupt:
	case <-time.After(2 * time.Second):
	}

	err = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return fmt.Errorf("write close: %w", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return nil
}

// sendUtterances plays a round-robin conversation. Each voice always sends
// the same bytes, so the server sees a consistent speaker per label.
func sendUtterances(c *websocket.Conn, out io.Writer) error {
	for i := 0; i < simUtterances; i++ {
		voice := i % simSpeakers
		msg := ws.UtteranceMessage{
			BaseMessage: ws.BaseMessage{
				Type:      ws.MessageTypeUtterance,
				MessageID: fmt.Sprintf("utt-%d", i+1),
			},
			Label:     fmt.Sprintf("spk_%d", voice),
			AudioData: []byte(fmt.Sprintf("synthetic-voice-%d", voice)),
		}
		fmt.Fprintf(out, "-> utterance %d label=%s\n", i+1, msg.Label)
		if err := c.WriteJSON(msg); err != nil {
			return fmt.Errorf("send utterance %d: %w", i+1, err)
		}
		time.Sleep(simDelay)
	}
	return nil
}

func streamAudio(c *websocket.Conn, out io.Writer) error {
	audio, err := os.ReadFile(simAudioFile)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}
	fmt.Fprintf(out, "read %s (%d bytes)\n", simAudioFile, len(audio))

	start := ws.ListeningStartMessage{BaseMessage: ws.BaseMessage{Type: ws.MessageTypeListeningStart}}
	if err := c.WriteJSON(start); err != nil {
		return fmt.Errorf("send listening_start: %w", err)
	}

	chunks := 0
	for off := 0; off < len(audio); off += simChunkSize {
		end := off + simChunkSize
		if end > len(audio) {
			end = len(audio)
		}
		if err := c.WriteMessage(websocket.BinaryMessage, audio[off:end]); err != nil {
			return fmt.Errorf("send chunk %d: %w", chunks+1, err)
		}
		chunks++
		time.Sleep(simDelay)
	}
	fmt.Fprintf(out, "-> streamed %d chunks\n", chunks)

	end := ws.ListeningEndMessage{BaseMessage: ws.BaseMessage{Type: ws.MessageTypeListeningEnd}}
	if err := c.WriteJSON(end); err != nil {
		return fmt.Errorf("send listening_end: %w", err)
	}
	return nil
}

func printIncoming(c *websocket.Conn, out io.Writer, done chan struct{}) {
	defer close(done)
	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var base ws.BaseMessage
		if err := json.Unmarshal(message, &base); err != nil {
			fmt.Fprintf(out, "<- unreadable message: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "<- %s %s\n", base.Type, message)
	}
}
