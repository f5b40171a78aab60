// relay-probe dials a relay, sends typed frames, and prints every decoded
// reply. It is the manual smoke test for the wire format and the relay's
// echo path.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duova/EvolitsExtracts/internal/contracts"
	"github.com/duova/EvolitsExtracts/internal/logging"
	"github.com/duova/EvolitsExtracts/internal/observability"
	"github.com/duova/EvolitsExtracts/internal/protocol/frame"
	"github.com/duova/EvolitsExtracts/internal/protocol/registry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay-probe: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to probe TOML config")
	url := flag.String("url", "", "relay websocket URL (overrides config)")
	flag.Parse()

	logging.ConfigureRuntime()
	logger := observability.InitLogger("relay-probe")

	cfg := defaultProbeConfig()
	if *configPath != "" {
		loaded, err := loadProbeConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *url != "" {
		cfg.URL = *url
	}

	reg, err := registry.Build(contracts.Module())
	if err != nil {
		return err
	}
	codec := frame.NewCodec(reg)

	conn, _, err := websocket.DefaultDialer.Dial(cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	defer conn.Close()
	logger.Info().Str("url", cfg.URL).Msg("connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			decoded, err := codec.Decode(data)
			if err != nil {
				logger.Warn().Err(err).Msg("undecodable reply")
				continue
			}
			for _, dec := range decoded {
				logger.Info().
					Str("kind", dec.Kind.QualifiedName()).
					Any("message", dec.Message).
					Msg("reply")
			}
		}
	}()

	for seq := uint64(1); seq <= uint64(cfg.Count); seq++ {
		ping, err := codec.Encode(&contracts.EchoPing{
			Seq:      seq,
			SentAtMS: time.Now().UnixMilli(),
		})
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, ping); err != nil {
			return fmt.Errorf("write ping: %w", err)
		}
		time.Sleep(cfg.Interval)
	}

	post, err := codec.Encode(&contracts.ChatPost{
		Channel: cfg.Channel,
		Author:  cfg.Author,
		Body:    "probe complete",
	})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, post); err != nil {
		return fmt.Errorf("write post: %w", err)
	}

	deadline := time.Now().Add(cfg.Timeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "probe done"), deadline)

	select {
	case <-done:
	case <-time.After(cfg.Timeout):
	}
	return nil
}
