// Package dispatch provides the command dispatcher for the CMD protocol: it
// serializes outbound writes, tracks in-flight commands, matches inbound
// events back to the command that caused them, and enforces per-kind
// dispatch policies.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jefrnc/das-bridge/internal/errors"
	"github.com/jefrnc/das-bridge/internal/protocol"
)

// Kind identifies a command class for policy purposes.
type Kind int

const (
	KindLogin Kind = iota
	KindEcho
	KindNewOrder
	KindCancel
	KindCancelAll
	KindReplace
	KindPosRefresh
	KindGetBP
	KindGetShortInfo
	KindGetQuote
	KindGetChart
	KindSubscribe
	KindUnsubscribe
	KindLocateInquire
	KindLocateOrder
	KindLocateAvail
	KindGetLocateInfo
	KindRouteStatus
)

// Policy is the dispatch policy applied to a command kind.
type Policy int

const (
	// PolicyConcurrent allows multiple in-flight instances, correlated by
	// an identifier embedded in both request and reply.
	PolicyConcurrent Policy = iota
	// PolicyExclusiveKind allows one in-flight instance per kind; replies
	// carry no identifier, so the next reply of matching shape belongs to
	// the oldest pending command of that kind.
	PolicyExclusiveKind
	// PolicyExclusiveSession allows one wire-level send per connection
	// lifetime. A second submit fails with ErrPolicyBlocked and never
	// reaches the wire. Resets only on reconnect.
	PolicyExclusiveSession
	// PolicySerializedSymbol serializes commands mutating per-symbol
	// subscription state so overlapping subscribe/unsubscribe cannot race.
	PolicySerializedSymbol
	// PolicyFireAndForget expects no reply; the command resolves as soon
	// as the write completes.
	PolicyFireAndForget
)

// PolicyFor returns the dispatch policy for a command kind.
func PolicyFor(kind Kind) Policy {
	switch kind {
	case KindNewOrder, KindCancel, KindReplace, KindGetShortInfo, KindGetQuote, KindLocateAvail:
		return PolicyConcurrent
	case KindLogin, KindEcho, KindGetBP, KindGetLocateInfo, KindRouteStatus:
		return PolicyExclusiveKind
	case KindLocateInquire:
		return PolicyExclusiveSession
	case KindSubscribe, KindUnsubscribe:
		return PolicySerializedSymbol
	case KindCancelAll, KindPosRefresh, KindGetChart, KindLocateOrder:
		return PolicyFireAndForget
	}
	return PolicyConcurrent
}

// LineWriter writes a single protocol line to the transport.
type LineWriter interface {
	WriteLine(line string) error
}

// Matcher inspects an inbound event and reports whether it resolves the
// pending command.
type Matcher func(ev protocol.Event) bool

// Command describes one outbound command submission.
type Command struct {
	Kind    Kind
	Text    string
	Symbol  string        // for serialized-by-symbol kinds
	Timeout time.Duration // zero means the dispatcher default
	Match   Matcher       // nil for fire-and-forget kinds
}

type pendingCommand struct {
	id       uint64
	kind     Kind
	text     string
	match    Matcher
	issuedAt time.Time
	result   chan protocol.Event
}

// Dispatcher owns the pending-command table and the outbound write path.
type Dispatcher struct {
	log            zerolog.Logger
	defaultTimeout time.Duration

	writeMu sync.Mutex // serializes wire writes

	mu              sync.Mutex
	writer          LineWriter
	pending         []*pendingCommand
	nextID          uint64
	exclusiveIssued map[Kind]bool // per-connection, reset on Reset
	discard         map[Kind]int  // shaped replies owed to timed-out commands

	kindGates   map[Kind]chan struct{}
	symbolGates map[string]chan struct{}
	gatesMu     sync.Mutex
}

// New creates a dispatcher. The writer is bound later, when the session
// establishes a connection.
func New(logger zerolog.Logger, defaultTimeout time.Duration) *Dispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Dispatcher{
		log:             logger.With().Str("component", "dispatch").Logger(),
		defaultTimeout:  defaultTimeout,
		exclusiveIssued: make(map[Kind]bool),
		discard:         make(map[Kind]int),
		kindGates:       make(map[Kind]chan struct{}),
		symbolGates:     make(map[string]chan struct{}),
	}
}

// rollbackExclusive returns an unused once-per-session budget after a
// command failed to reach the wire.
func (d *Dispatcher) rollbackExclusive(kind Kind) {
	d.mu.Lock()
	d.exclusiveIssued[kind] = false
	d.mu.Unlock()
}

// Bind attaches the transport writer for the current connection.
func (d *Dispatcher) Bind(w LineWriter) {
	d.mu.Lock()
	d.writer = w
	d.mu.Unlock()
}

// Submit sends a command and waits for its correlated reply, its timeout, or
// caller cancellation. Fire-and-forget kinds resolve on write completion
// with a nil event.
func (d *Dispatcher) Submit(ctx context.Context, cmd Command) (protocol.Event, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	policy := PolicyFor(cmd.Kind)

	switch policy {
	case PolicyExclusiveSession:
		d.mu.Lock()
		if d.exclusiveIssued[cmd.Kind] {
			d.mu.Unlock()
			return nil, errors.NewCommandError(cmd.Text, "already issued this session", errors.ErrPolicyBlocked)
		}
		// Record before release so a concurrent submit can never slip a
		// second send onto the wire.
		d.exclusiveIssued[cmd.Kind] = true
		d.mu.Unlock()
	case PolicyExclusiveKind:
		if err := d.acquireGate(ctx, d.kindGate(cmd.Kind)); err != nil {
			return nil, err
		}
		defer d.releaseGate(d.kindGate(cmd.Kind))
	case PolicySerializedSymbol:
		gate := d.symbolGate(cmd.Symbol)
		if err := d.acquireGate(ctx, gate); err != nil {
			return nil, err
		}
		defer d.releaseGate(gate)
	}

	if policy == PolicyFireAndForget || cmd.Match == nil {
		err := d.write(cmd.Text)
		if err != nil && policy == PolicyExclusiveSession {
			d.rollbackExclusive(cmd.Kind)
		}
		return nil, err
	}

	p := d.register(cmd)
	if err := d.write(cmd.Text); err != nil {
		d.remove(p, false)
		if policy == PolicyExclusiveSession {
			d.rollbackExclusive(cmd.Kind)
		}
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	start := time.Now()
	select {
	case ev, ok := <-p.result:
		if !ok {
			return nil, errors.NewCommandError(cmd.Text, "connection lost", errors.ErrConnectionLost)
		}
		if reject, isReject := ev.(protocol.ErrorReply); isReject && reject.Severity == protocol.PrefixError {
			return ev, errors.NewCommandError(cmd.Text, reject.Message, errors.ErrRejected)
		}
		d.log.Debug().Str("command", cmd.Text).Dur("duration", time.Since(start)).Msg("command resolved")
		return ev, nil
	case <-timer.C:
		d.remove(p, true)
		d.log.Warn().Str("command", cmd.Text).Dur("timeout", timeout).Msg("command timed out")
		return nil, errors.NewCommandError(cmd.Text, "no reply within deadline", errors.ErrTimeout)
	case <-ctx.Done():
		d.remove(p, true)
		return nil, errors.NewCommandError(cmd.Text, "cancelled by caller", errors.ErrCancelled)
	}
}

// Deliver offers an inbound event to the pending table. It returns true if a
// pending command consumed the event. Shaped replies owed to timed-out
// commands are discarded here so they cannot be misattributed to a newer
// pending command of the same kind.
func (d *Dispatcher) Deliver(ev protocol.Event) bool {
	d.mu.Lock()

	if kind, shaped := replyShape(ev); shaped && d.discard[kind] > 0 {
		d.discard[kind]--
		d.mu.Unlock()
		d.log.Debug().Str("event", ev.Kind().String()).Str("raw", ev.RawLine()).Msg("discarded late reply")
		return true
	}

	for i, p := range d.pending {
		if p.match(ev) {
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			d.mu.Unlock()
			p.result <- ev
			return true
		}
	}
	d.mu.Unlock()
	return false
}

// Reset fails every pending command with a connection-lost error and clears
// all per-connection policy state. A new connection is a new session.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.writer = nil
	d.exclusiveIssued = make(map[Kind]bool)
	d.discard = make(map[Kind]int)
	d.mu.Unlock()

	for _, p := range pending {
		close(p.result)
	}
	if len(pending) > 0 {
		d.log.Warn().Int("count", len(pending)).Msg("pending commands failed by disconnect")
	}
}

// PendingCount returns the number of in-flight commands.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) register(cmd Command) *pendingCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	p := &pendingCommand{
		id:       d.nextID,
		kind:     cmd.Kind,
		text:     cmd.Text,
		match:    cmd.Match,
		issuedAt: time.Now(),
		result:   make(chan protocol.Event, 1),
	}
	d.pending = append(d.pending, p)
	return p
}

// remove deletes a pending command. When expectLate is set and the command's
// replies carry no identifier, the dispatcher owes the wire one discarded
// reply of that shape.
func (d *Dispatcher) remove(p *pendingCommand, expectLate bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, q := range d.pending {
		if q.id == p.id {
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			if expectLate && PolicyFor(p.kind) == PolicyExclusiveKind {
				d.discard[p.kind]++
			}
			return
		}
	}
}

func (d *Dispatcher) write(line string) error {
	d.mu.Lock()
	w := d.writer
	d.mu.Unlock()
	if w == nil {
		return errors.ErrNotConnected
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := w.WriteLine(line); err != nil {
		return errors.NewConnectionError("write", err)
	}
	return nil
}

func (d *Dispatcher) kindGate(kind Kind) chan struct{} {
	d.gatesMu.Lock()
	defer d.gatesMu.Unlock()
	gate, ok := d.kindGates[kind]
	if !ok {
		gate = make(chan struct{}, 1)
		d.kindGates[kind] = gate
	}
	return gate
}

func (d *Dispatcher) symbolGate(symbol string) chan struct{} {
	d.gatesMu.Lock()
	defer d.gatesMu.Unlock()
	gate, ok := d.symbolGates[symbol]
	if !ok {
		gate = make(chan struct{}, 1)
		d.symbolGates[symbol] = gate
	}
	return gate
}

func (d *Dispatcher) acquireGate(ctx context.Context, gate chan struct{}) error {
	select {
	case gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.NewCommandError("", "cancelled waiting for dispatch slot", errors.ErrCancelled)
	}
}

func (d *Dispatcher) releaseGate(gate chan struct{}) {
	<-gate
}

// replyShape maps identifier-free reply events back to the command kind
// whose replies they satisfy.
func replyShape(ev protocol.Event) (Kind, bool) {
	switch ev.Kind() {
	case protocol.KindBuyingPower:
		return KindGetBP, true
	case protocol.KindLocateInfo:
		return KindGetLocateInfo, true
	case protocol.KindRouteStatus:
		return KindRouteStatus, true
	case protocol.KindPlainReply:
		return KindLogin, true
	}
	return 0, false
}
