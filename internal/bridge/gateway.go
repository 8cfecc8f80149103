package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Subjects used on the bridge transport.
const (
	// RecordSubject carries encoded settlement records to the off-chain
	// consumers (fire-and-forget).
	RecordSubject = "mintd.bridge.records"
	// TransferSubject carries transfer instructions to the bridge
	// daemon, request/reply.
	TransferSubject = "mintd.bridge.transfer"
	// InboundSubject carries reserve credits arriving from the other
	// execution domain.
	InboundSubject = "mintd.bridge.inbound"

	// recordStream is the jetstream stream retaining settlement records.
	recordStream = "MINTD_BRIDGE_RECORDS"
)

// transferAck is the reply a bridge daemon sends for a transfer
// instruction.
const transferAck = "OK"

// Gateway is the external settlement channel. SendStable must be
// atomic: the transfer either fully happens or fully fails, and the
// caller rolls back its authorization on failure. SendMessage is
// fire-and-forget; the engine never consults delivery success.
type Gateway interface {
	SendStable(ctx context.Context, asset string, amount *big.Int) error
	SendMessage(ctx context.Context, payload []byte) error
}

// TransferInstruction is the JSON body of a SendStable request.
type TransferInstruction struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"` // base-10
}

// NATSGateway routes bridge traffic over NATS: records via jetstream
// publish, transfers via core request/reply.
type NATSGateway struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	timeout time.Duration
	log     zerolog.Logger
}

func NewNATSGateway(nc *nats.Conn, js jetstream.JetStream, timeout time.Duration, log zerolog.Logger) *NATSGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATSGateway{nc: nc, js: js, timeout: timeout, log: log}
}

// SendStable issues a transfer instruction and waits for the daemon's
// acknowledgement. A missing or negative reply fails the call, which
// makes the caller revoke the transfer authorization.
func (g *NATSGateway) SendStable(ctx context.Context, asset string, amount *big.Int) error {
	body, err := json.Marshal(TransferInstruction{
		Asset:  asset,
		Amount: amount.String(),
	})
	if err != nil {
		return fmt.Errorf("bridge: marshal transfer: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	msg, err := g.nc.RequestWithContext(reqCtx, TransferSubject, body)
	if err != nil {
		return fmt.Errorf("bridge: transfer request: %w", err)
	}
	if string(msg.Data) != transferAck {
		return fmt.Errorf("bridge: transfer rejected: %s", msg.Data)
	}
	return nil
}

// SendMessage publishes an encoded settlement record. Failures are
// logged and surfaced, but callers treat delivery as fire-and-forget.
func (g *NATSGateway) SendMessage(ctx context.Context, payload []byte) error {
	if _, err := g.js.Publish(ctx, RecordSubject, payload); err != nil {
		g.log.Warn().Err(err).Msg("settlement record publish failed")
		return err
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

// EnsureRecordStream creates the jetstream stream retaining settlement
// records for downstream consumers.
func EnsureRecordStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      recordStream,
		Subjects:  []string{RecordSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("bridge: create record stream: %w", err)
	}
	return nil
}
