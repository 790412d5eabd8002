package scservo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scservo-go/scservo/transport"
)

// latency is the worst-case USB-to-TTL bridge latency budgeted into every
// packet timeout (spec §4.1).
const latency = 16 * time.Millisecond

// Bus is the transaction engine: it owns one half-duplex serial line,
// serializes every request/response exchange on it, and surfaces a
// CommResult alongside any servo-reported StatusError (spec §4.3).
//
// A Bus holds no queue. Each call blocks until its own transaction
// completes; at most one transaction is ever in flight (spec §5).
type Bus struct {
	transport Transport
	codec     *Codec
	logger    logrus.FieldLogger

	baud          int
	txTimePerByte float64 // ms per wire byte at the configured baud

	minCmdGap   time.Duration
	lastCmdTime time.Time

	busy   sync.Mutex
	stateM sync.Mutex
	closed bool
}

// BusConfig configures NewBus.
type BusConfig struct {
	// Transport is the underlying byte-I/O capability. If nil, Port is
	// used to open a real serial connection.
	Transport Transport

	// Port is the OS serial device path (e.g. "/dev/ttyUSB0"). Ignored
	// if Transport is set.
	Port string

	// BaudRate is the line rate. Defaults to 1,000,000.
	BaudRate int

	// Endianness selects the multi-byte field byte order (spec §3).
	// Defaults to LittleEndian (STS/SMS).
	Endianness Endianness

	// MinCommandGap is the minimum spacing enforced between the end of
	// one transmit and the start of the next, giving a half-duplex bus
	// time to turn around. Defaults to 1ms.
	MinCommandGap time.Duration

	// Logger receives debug traces of stray responses discarded while
	// awaiting a reply, and warn traces of servo status errors seen during
	// a sync-read. Defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger
}

// NewBus opens (or adopts) a transport and returns a ready Bus.
func NewBus(cfg BusConfig) (*Bus, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1000000
	}
	if cfg.MinCommandGap == 0 {
		cfg.MinCommandGap = time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	t := cfg.Transport
	if t == nil {
		if cfg.Port == "" {
			return nil, fmt.Errorf("scservo: either Transport or Port must be specified")
		}
		opened, err := transport.OpenSerial(transport.SerialConfig{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
		})
		if err != nil {
			return nil, fmt.Errorf("scservo: open serial: %w", err)
		}
		t = opened
	}

	return &Bus{
		transport:     t,
		codec:         NewCodec(cfg.Endianness),
		logger:        cfg.Logger,
		baud:          cfg.BaudRate,
		txTimePerByte: 10000.0 / float64(cfg.BaudRate),
		minCmdGap:     cfg.MinCommandGap,
		lastCmdTime:   time.Now(),
	}, nil
}

// Close releases the underlying transport. Idempotent.
func (b *Bus) Close() error {
	b.stateM.Lock()
	defer b.stateM.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.transport.Close()
}

// Codec returns the frame codec, exposing the active endianness policy to
// callers building their own payloads (e.g. convenience register I/O,
// groups).
func (b *Bus) Codec() *Codec {
	return b.codec
}

// SetBaudRate reconfigures the line rate on both the transport and the
// engine's own timeout arithmetic.
func (b *Bus) SetBaudRate(baud int) error {
	release, ok := b.tryAcquire()
	if !ok {
		return fmt.Errorf("scservo: %s", PortBusy)
	}
	defer release()

	if err := b.transport.SetBaudRate(baud); err != nil {
		return fmt.Errorf("scservo: set baud rate: %w", err)
	}
	b.baud = baud
	b.txTimePerByte = 10000.0 / float64(baud)
	return nil
}

func (b *Bus) isClosed() bool {
	b.stateM.Lock()
	defer b.stateM.Unlock()
	return b.closed
}

// tryAcquire implements the single-slot is-busy/set-busy guard (spec
// §4.3): a transaction already in flight makes every other caller see
// PortBusy immediately rather than queuing behind it.
func (b *Bus) tryAcquire() (release func(), ok bool) {
	if !b.busy.TryLock() {
		return nil, false
	}
	return b.busy.Unlock, true
}

// IsBusy reports whether a transaction currently holds the bus (spec
// §4.3's is-busy flag, exported for callers that want to check without
// attempting a call that would return PortBusy). The check itself is
// non-blocking: it probes the guard with TryLock and immediately
// releases it if uncontended.
func (b *Bus) IsBusy() bool {
	release, ok := b.tryAcquire()
	if !ok {
		return true
	}
	release()
	return false
}

// packetTimeout computes the armed receive window for a transaction
// expecting expectedBytes of wire response (spec §4.3):
//
//	tx-time-per-byte × expected-bytes + 2 × latency + 2ms
func (b *Bus) packetTimeout(expectedBytes int) time.Duration {
	ms := b.txTimePerByte*float64(expectedBytes) + 2*float64(latency/time.Millisecond) + 2
	return time.Duration(ms * float64(time.Millisecond))
}

func validUnicastID(id int) bool {
	return id >= 0 && id <= int(MaxServoID)
}

// send transmits a single frame, enforcing the minimum command gap and
// flushing stale input first, as a half-duplex bus requires.
func (b *Bus) send(frame []byte) (CommResult, error) {
	if len(frame) > maxFrameLen {
		return TxError, ErrFrameTooLarge
	}

	if gap := b.minCmdGap - time.Since(b.lastCmdTime); gap > 0 {
		time.Sleep(gap)
	}
	b.transport.Flush()

	n, err := b.transport.Write(frame)
	if err != nil {
		return TxFail, fmt.Errorf("scservo: write: %w", err)
	}
	if n != len(frame) {
		return TxFail, fmt.Errorf("scservo: short write: wrote %d of %d bytes", n, len(frame))
	}
	b.lastCmdTime = time.Now()

	// Half-duplex turnaround: give the line a moment before listening.
	time.Sleep(100 * time.Microsecond)
	return Success, nil
}

// recvSession incrementally reads from the transport and feeds a
// frameScanner until a frame is parsed, the scanner reports corruption, or
// the armed deadline passes.
type recvSession struct {
	transport Transport
	scanner   *frameScanner
	deadline  time.Time
}

func (b *Bus) newRecvSession(expectedBytes int) *recvSession {
	return &recvSession{
		transport: b.transport,
		scanner:   newFrameScanner(),
		deadline:  time.Now().Add(b.packetTimeout(expectedBytes)),
	}
}

// next returns the next successfully parsed frame, or the CommResult that
// explains why there isn't one: RxTimeout if nothing was ever received in
// the window, RxCorrupt on a bad checksum or on a timeout with a
// dangling partial frame still buffered (spec §9 design note: this
// partial/zero-byte distinction is preserved deliberately, not
// reinterpreted), RxFail on a hard transport error.
func (s *recvSession) next(ctx context.Context) (Packet, CommResult) {
	readBuf := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return Packet{}, RxFail
		default:
		}

		pkt, status := s.scanner.try()
		switch status {
		case scanOK:
			return pkt, Success
		case scanCorrupt:
			return Packet{}, RxCorrupt
		case scanNeedMore:
			if time.Now().After(s.deadline) {
				if s.scanner.empty() {
					return Packet{}, RxTimeout
				}
				return Packet{}, RxCorrupt
			}

			remaining := time.Until(s.deadline)
			pollWindow := remaining
			if pollWindow > 10*time.Millisecond {
				pollWindow = 10 * time.Millisecond
			}
			s.transport.SetReadTimeout(pollWindow)

			// Read only what the scanner still needs for the frame it is
			// assembling, so bytes of a later response stay in the transport.
			want := s.scanner.wait - len(s.scanner.buf)
			if want < 1 {
				want = 1
			}
			if want > len(readBuf) {
				want = len(readBuf)
			}
			n, err := s.transport.Read(readBuf[:want])
			if n > 0 {
				s.scanner.feed(readBuf[:n])
				continue
			}
			if err != nil {
				return Packet{}, RxFail
			}
			time.Sleep(time.Millisecond)
		}
	}
}

// txrx transmits frame and, unless id is the broadcast id, waits for a
// response whose id matches it — discarding any stray response from a
// different id on the bus and continuing to wait (spec §4.3 state
// machine).
func (b *Bus) txrx(ctx context.Context, id byte, frame []byte, expectedBytes int) (Packet, CommResult, error) {
	result, err := b.send(frame)
	if result != Success {
		return Packet{}, result, err
	}
	if id == BroadcastID {
		return Packet{}, Success, nil
	}

	sess := b.newRecvSession(expectedBytes)
	for {
		pkt, res := sess.next(ctx)
		if res != Success {
			return Packet{}, res, nil
		}
		if pkt.ID != id {
			b.logger.Debugf("[BUS] discarding stray response from id=%d while awaiting id=%d", pkt.ID, id)
			continue
		}
		return pkt, Success, nil
	}
}

// Ping verifies communication with id and returns its model number,
// recovered with a follow-up register read (spec §4.3).
func (b *Bus) Ping(ctx context.Context, id int) (model uint16, result CommResult, status StatusError, err error) {
	if !validUnicastID(id) {
		return 0, NotAvailable, 0, ErrInvalidID
	}
	release, ok := b.tryAcquire()
	if !ok {
		return 0, PortBusy, 0, nil
	}
	defer release()
	if b.isClosed() {
		return 0, NotAvailable, 0, ErrBusClosed
	}

	frame := b.codec.Build(Packet{ID: byte(id), Instruction: InstPing})
	pkt, res, err := b.txrx(ctx, byte(id), frame, minFrameLen)
	if res != Success {
		return 0, res, 0, err
	}

	// The ping response carrying a status-error bit doesn't mean the
	// servo stopped responding — it's still addressable and still has a
	// model number, so the follow-up read always happens (spec §4.3's
	// two-step is unconditional). Status bits from both responses are
	// ORed together so neither is silently dropped.
	data, res, readStatus, err := b.readRegisterLocked(ctx, byte(id), modelNumberAddr, modelNumberLength)
	if res != Success {
		return 0, res, pkt.Error, err
	}
	return b.codec.DecodeWord(data), Success, pkt.Error | readStatus, nil
}

// ReadRegister reads length bytes from address on id.
func (b *Bus) ReadRegister(ctx context.Context, id int, address byte, length int) ([]byte, CommResult, StatusError, error) {
	if !validUnicastID(id) {
		return nil, NotAvailable, 0, ErrInvalidID
	}
	release, ok := b.tryAcquire()
	if !ok {
		return nil, PortBusy, 0, nil
	}
	defer release()
	if b.isClosed() {
		return nil, NotAvailable, 0, ErrBusClosed
	}
	return b.readRegisterLocked(ctx, byte(id), address, length)
}

func (b *Bus) readRegisterLocked(ctx context.Context, id byte, address byte, length int) ([]byte, CommResult, StatusError, error) {
	frame := b.codec.Build(Packet{ID: id, Instruction: InstRead, Parameters: []byte{address, byte(length)}})
	pkt, res, err := b.txrx(ctx, id, frame, length+6)
	if res != Success {
		return nil, res, 0, err
	}
	// A status-error bit doesn't mean the payload is garbage — the servo
	// still reported it alongside the fault. Hand it back and let the
	// caller inspect CommResult and StatusError independently (spec §7),
	// same policy SyncReadTx applies to its own per-id responses.
	return pkt.Parameters, Success, pkt.Error, nil
}

// WriteRegister writes data to address on id. On the broadcast id, no
// response is expected and Success is returned immediately after tx.
func (b *Bus) WriteRegister(ctx context.Context, id int, address byte, data []byte) (CommResult, StatusError, error) {
	release, ok := b.tryAcquire()
	if !ok {
		return PortBusy, 0, nil
	}
	defer release()
	if b.isClosed() {
		return NotAvailable, 0, ErrBusClosed
	}
	return b.writeLocked(ctx, InstWrite, id, address, data)
}

// RegWrite buffers a write for later commit via Action. Framing is
// identical to WriteRegister; only the instruction code differs (spec
// §4.3).
func (b *Bus) RegWrite(ctx context.Context, id int, address byte, data []byte) (CommResult, StatusError, error) {
	release, ok := b.tryAcquire()
	if !ok {
		return PortBusy, 0, nil
	}
	defer release()
	if b.isClosed() {
		return NotAvailable, 0, ErrBusClosed
	}
	return b.writeLocked(ctx, InstRegWrite, id, address, data)
}

func (b *Bus) writeLocked(ctx context.Context, instruction byte, id int, address byte, data []byte) (CommResult, StatusError, error) {
	params := make([]byte, 1+len(data))
	params[0] = address
	copy(params[1:], data)

	frame := b.codec.Build(Packet{ID: byte(id), Instruction: instruction, Parameters: params})
	pkt, res, err := b.txrx(ctx, byte(id), frame, minFrameLen)
	if res != Success {
		return res, 0, err
	}
	return Success, pkt.Error, nil
}

// Action commits every RegWrite buffered since the last Action, on id
// (typically BroadcastID). Fire-and-forget: no response is awaited even
// for a unicast id.
func (b *Bus) Action(ctx context.Context, id int) (CommResult, error) {
	return b.fireAndForget(ctx, InstAction, id)
}

// FactoryReset issues the reset instruction to id, restoring EEPROM
// control-table defaults. Fire-and-forget, like Action.
func (b *Bus) FactoryReset(ctx context.Context, id int) (CommResult, error) {
	return b.fireAndForget(ctx, InstReset, id)
}

func (b *Bus) fireAndForget(ctx context.Context, instruction byte, id int) (CommResult, error) {
	release, ok := b.tryAcquire()
	if !ok {
		return PortBusy, nil
	}
	defer release()
	if b.isClosed() {
		return NotAvailable, ErrBusClosed
	}

	frame := b.codec.Build(Packet{ID: byte(id), Instruction: instruction})
	result, err := b.send(frame)
	if result != Success {
		return result, err
	}
	return Success, nil
}

// SyncWriteTx broadcasts a single sync-write frame carrying a pre-built
// parameter block (start address, data length, then [id, data...] pairs
// in ascending id order). Callers normally reach this through
// SyncWriteGroup rather than directly (spec §4.5).
func (b *Bus) SyncWriteTx(ctx context.Context, startAddress, dataLength byte, block []byte) (CommResult, error) {
	release, ok := b.tryAcquire()
	if !ok {
		return PortBusy, nil
	}
	defer release()
	if b.isClosed() {
		return NotAvailable, ErrBusClosed
	}

	params := make([]byte, 0, 2+len(block))
	params = append(params, startAddress, dataLength)
	params = append(params, block...)

	frame := b.codec.Build(Packet{ID: BroadcastID, Instruction: InstSyncWrite, Parameters: params})
	result, err := b.send(frame)
	if result != Success {
		return result, err
	}
	return Success, nil
}

// SyncReadTx broadcasts a sync-read frame for ids (spec §3 wire order is
// whatever the caller supplies — SyncReadGroup always supplies ascending
// order) then receives one response per id in that same order, stopping
// at the first non-success result (spec §4.6). Callers normally reach
// this through SyncReadGroup.
func (b *Bus) SyncReadTx(ctx context.Context, startAddress, dataLength byte, ids []byte) (map[byte][]byte, CommResult, error) {
	release, ok := b.tryAcquire()
	if !ok {
		return nil, PortBusy, nil
	}
	defer release()
	if b.isClosed() {
		return nil, NotAvailable, ErrBusClosed
	}
	if len(ids) == 0 {
		return nil, NotAvailable, nil
	}

	params := make([]byte, 0, 2+len(ids))
	params = append(params, startAddress, dataLength)
	params = append(params, ids...)

	frame := b.codec.Build(Packet{ID: BroadcastID, Instruction: InstSyncRead, Parameters: params})
	result, err := b.send(frame)
	if result != Success {
		return nil, result, err
	}

	expectedTotal := (6 + int(dataLength)) * len(ids)
	sess := b.newRecvSession(expectedTotal)

	out := make(map[byte][]byte, len(ids))
	for _, id := range ids {
		for {
			pkt, res := sess.next(ctx)
			if res != Success {
				return out, res, nil
			}
			if pkt.ID != id {
				b.logger.Debugf("[SYNCREAD] discarding stray response from id=%d while awaiting id=%d", pkt.ID, id)
				continue
			}
			if pkt.Error.HasError() {
				b.logger.Warnf("[SYNCREAD] servo %d reported status error %s", id, pkt.Error)
			}
			out[id] = pkt.Parameters
			break
		}
	}
	return out, Success, nil
}
