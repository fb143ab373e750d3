// Package bridge implements audio.Recorder and audio.Player on top of a
// WebSocket connection to the companion device app.
//
// The device dials the bridge endpoint and keeps a single long-lived
// connection open. Microphone audio flows device-to-server as binary Opus
// frames; playback audio flows server-to-device the same way. Control
// messages (record start/stop, playback boundaries, permission state) are
// JSON text messages.
//
// Capture runs at 16 kHz mono, the native rate of the speech recognizer.
// Playback runs at 48 kHz mono. Both directions use 20 ms Opus frames.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/perivale/sonara/pkg/audio"
)

const (
	captureSampleRate  = 16000
	playbackSampleRate = 48000
	frameMs            = 20

	// Samples per 20 ms frame at each rate.
	captureFrameSize  = captureSampleRate * frameMs / 1000  // 320
	playbackFrameSize = playbackSampleRate * frameMs / 1000 // 960

	// maxOpusFrameBytes bounds the encoded size of one playback frame.
	maxOpusFrameBytes = 4000
)

// controlMessage is the JSON frame exchanged as WebSocket text messages.
type controlMessage struct {
	// Type is one of "record_start", "record_stop", "play_end", "play_stop"
	// (server to device) or "permission", "play_complete" (device to server).
	Type string `json:"type"`

	// Granted accompanies "permission".
	Granted bool `json:"granted,omitempty"`
}

// Compile-time interface checks.
var (
	_ audio.Recorder = (*Bridge)(nil)
	_ audio.Player   = (*Bridge)(nil)
)

// Bridge owns the device connection and adapts it to the audio interfaces.
// A single device may be connected at a time; a second connection attempt is
// rejected until the first disconnects.
type Bridge struct {
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	decoder *gopus.Decoder
	encoder *gopus.Encoder

	permissionDenied bool

	rec *recording

	playing  bool
	playDone chan struct{}
	playStop chan struct{}
}

// Option is a functional option for Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used for connection lifecycle events.
// Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// New creates a Bridge with no device connected.
func New(opts ...Option) *Bridge {
	b := &Bridge{logger: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Handler returns the HTTP handler that accepts the device WebSocket
// connection. Mount it on the path the companion app dials, e.g. "/device".
func (b *Bridge) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			b.logger.Error("device websocket accept failed", "error", err)
			return
		}

		if err := b.attach(conn); err != nil {
			b.logger.Warn("rejecting device connection", "error", err)
			conn.Close(websocket.StatusPolicyViolation, "device already connected")
			return
		}

		b.logger.Info("device connected", "remote", r.RemoteAddr)
		b.readLoop(r.Context(), conn)
		b.detach(conn)
		b.logger.Info("device disconnected", "remote", r.RemoteAddr)
	})
}

// Connected reports whether a device is currently attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// attach registers conn as the active device, creating fresh codec state.
func (b *Bridge) attach(conn *websocket.Conn) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return errors.New("bridge: device already connected")
	}

	dec, err := gopus.NewDecoder(captureSampleRate, 1)
	if err != nil {
		return fmt.Errorf("bridge: create opus decoder: %w", err)
	}
	enc, err := gopus.NewEncoder(playbackSampleRate, 1, gopus.Audio)
	if err != nil {
		return fmt.Errorf("bridge: create opus encoder: %w", err)
	}

	b.conn = conn
	b.decoder = dec
	b.encoder = enc
	b.permissionDenied = false
	return nil
}

// detach clears the active device if it is still conn, aborting any
// in-progress recording or playback.
func (b *Bridge) detach(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != conn {
		return
	}
	b.conn = nil
	b.decoder = nil
	b.encoder = nil
	if b.rec != nil {
		b.rec.fail(audio.ErrNoDevice)
		b.rec = nil
	}
	b.finishPlaybackLocked()
}

// readLoop consumes device messages until the connection drops.
func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		switch typ {
		case websocket.MessageBinary:
			b.handleAudioFrame(data)
		case websocket.MessageText:
			b.handleControl(data)
		}
	}
}

// handleAudioFrame decodes one Opus mic frame and appends it to the active
// recording. Frames arriving outside a recording are dropped.
func (b *Bridge) handleAudioFrame(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rec == nil || b.decoder == nil {
		return
	}
	pcm, err := b.decoder.Decode(frame, captureFrameSize, false)
	if err != nil {
		b.logger.Warn("opus decode failed, dropping frame", "error", err)
		return
	}
	b.rec.append(int16sToBytes(pcm))
}

func (b *Bridge) handleControl(data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Warn("malformed control message", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch msg.Type {
	case "permission":
		b.permissionDenied = !msg.Granted
		if b.permissionDenied && b.rec != nil {
			b.rec.fail(audio.ErrPermissionDenied)
			b.rec = nil
		}
	case "play_complete":
		b.finishPlaybackLocked()
	default:
		b.logger.Debug("ignoring control message", "type", msg.Type)
	}
}

// finishPlaybackLocked signals playback completion. Caller holds b.mu.
func (b *Bridge) finishPlaybackLocked() {
	if b.playing {
		b.playing = false
		close(b.playDone)
	}
}

// sendControl writes a JSON control message to the device.
func (b *Bridge) sendControl(ctx context.Context, conn *websocket.Conn, msg controlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bridge: marshal control: %w", err)
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("bridge: send %s: %w", msg.Type, err)
	}
	return nil
}

// ── Recorder ──

// recording accumulates decoded PCM for one utterance.
type recording struct {
	bridge *Bridge
	conn   *websocket.Conn

	mu     sync.Mutex
	buf    []byte
	err    error
	closed bool
}

// StartRecording implements audio.Recorder.
func (b *Bridge) StartRecording(ctx context.Context) (audio.Recording, error) {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return nil, audio.ErrNoDevice
	}
	if b.permissionDenied {
		b.mu.Unlock()
		return nil, audio.ErrPermissionDenied
	}
	if b.rec != nil {
		b.mu.Unlock()
		return nil, errors.New("bridge: recording already in progress")
	}
	rec := &recording{bridge: b, conn: conn}
	b.rec = rec
	b.mu.Unlock()

	if err := b.sendControl(ctx, conn, controlMessage{Type: "record_start"}); err != nil {
		b.mu.Lock()
		if b.rec == rec {
			b.rec = nil
		}
		b.mu.Unlock()
		return nil, err
	}
	return rec, nil
}

func (r *recording) append(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.buf = append(r.buf, pcm...)
}

func (r *recording) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.err = err
	}
}

// Stop implements audio.Recording.
func (r *recording) Stop() ([]byte, error) {
	r.bridge.mu.Lock()
	if r.bridge.rec == r {
		r.bridge.rec = nil
	}
	conn := r.bridge.conn
	r.bridge.mu.Unlock()

	r.mu.Lock()
	firstStop := !r.closed
	r.closed = true
	buf, err := r.buf, r.err
	r.mu.Unlock()

	if firstStop && conn == r.conn && conn != nil {
		if serr := r.bridge.sendControl(context.Background(), conn, controlMessage{Type: "record_stop"}); serr != nil {
			r.bridge.logger.Warn("record_stop send failed", "error", serr)
		}
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Cancel implements audio.Recording.
func (r *recording) Cancel() error {
	_, err := r.Stop()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.buf = nil
	r.mu.Unlock()
	return nil
}

// ── Player ──

// Play implements audio.Player. The PCM must be 16-bit mono at 48 kHz.
func (b *Bridge) Play(ctx context.Context, pcm []byte) error {
	b.mu.Lock()
	conn := b.conn
	enc := b.encoder
	if conn == nil || enc == nil {
		b.mu.Unlock()
		return audio.ErrNoDevice
	}
	if b.playing {
		b.mu.Unlock()
		return errors.New("bridge: playback already in progress")
	}
	b.playing = true
	done := make(chan struct{})
	stop := make(chan struct{})
	b.playDone = done
	b.playStop = stop
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.finishPlaybackLocked()
		b.mu.Unlock()
	}()

	frameBytes := playbackFrameSize * 2
	for off := 0; off < len(pcm); off += frameBytes {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		end := min(off+frameBytes, len(pcm))
		frame := pcm[off:end]
		// Zero-pad the trailing partial frame to a full 20 ms.
		if len(frame) < frameBytes {
			padded := make([]byte, frameBytes)
			copy(padded, frame)
			frame = padded
		}

		opus, err := enc.Encode(bytesToInt16s(frame), playbackFrameSize, maxOpusFrameBytes)
		if err != nil {
			return fmt.Errorf("bridge: opus encode: %w", err)
		}

		b.writeMu.Lock()
		err = conn.Write(ctx, websocket.MessageBinary, opus)
		b.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("bridge: send playback frame: %w", err)
		}
	}

	if err := b.sendControl(ctx, conn, controlMessage{Type: "play_end"}); err != nil {
		return err
	}

	// Wait for the device to drain its buffer.
	select {
	case <-done:
		return nil
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Playing implements audio.Player.
func (b *Bridge) Playing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playing
}

// Stop implements audio.Player.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	conn := b.conn
	stop := b.playStop
	wasPlaying := b.playing
	if wasPlaying {
		close(stop)
		b.playStop = nil
	}
	b.finishPlaybackLocked()
	b.mu.Unlock()

	if !wasPlaying || conn == nil {
		return nil
	}
	return b.sendControl(ctx, conn, controlMessage{Type: "play_stop"})
}

// ── PCM helpers ──

// int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// bytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
