// Package engine exposes the dissector over an in-process command
// channel. An Instance owns exactly one opened capture - the
// byte session, its frames, and the aggregate context - and a single
// goroutine that owns all of that state. Commands arrive on a channel and
// are run to completion strictly in arrival order, so no lock exists
// anywhere in the engine; dropping a reply channel never cancels work.
package engine

import (
	"github.com/pkg/errors"

	"github.com/mel2oo/netshark/capture"
	"github.com/mel2oo/netshark/config"
	"github.com/mel2oo/netshark/logger"
)

// ErrNoCapture is returned by queries before OpenFile/AppendBytes has
// produced a session.
var ErrNoCapture = errors.New("engine: no capture open")

// ErrClosed is returned once Shutdown has run.
var ErrClosed = errors.New("engine: instance closed")

// command is one serialized unit of work. run executes on the owner
// goroutine; done is closed when it finishes so the caller can wait.
type command struct {
	run  func(st *state)
	done chan struct{}
}

// state is everything the owner goroutine guards.
type state struct {
	sess *capture.Session
	path string
}

// Instance is the engine's external handle. All methods are safe to call
// from any goroutine; each one round-trips through the command channel.
type Instance struct {
	opts config.EngineOptions
	cmds chan command
	quit chan struct{}
}

// New starts an Instance's owner goroutine.
func New(opts config.EngineOptions) *Instance {
	if opts.ChunkBytes <= 0 {
		opts = config.DefaultOptions().Engine
	}
	inst := &Instance{
		opts: opts,
		cmds: make(chan command),
		quit: make(chan struct{}),
	}
	go inst.loop()
	return inst
}

func (i *Instance) loop() {
	st := &state{}
	for {
		select {
		case cmd := <-i.cmds:
			cmd.run(st)
			close(cmd.done)
		case <-i.quit:
			st.sess = nil
			return
		}
	}
}

// do submits fn and blocks until the owner goroutine has run it.
func (i *Instance) do(fn func(st *state)) error {
	cmd := command{run: fn, done: make(chan struct{})}
	select {
	case i.cmds <- cmd:
	case <-i.quit:
		return ErrClosed
	}
	<-cmd.done
	return nil
}

// Shutdown stops the owner goroutine and releases the capture state.
func (i *Instance) Shutdown() {
	close(i.quit)
}

// OpenFile reads the capture file at path through the chunked loader,
// feeding the session incrementally, and responds with the resulting file
// info. Any previously open capture is replaced.
func (i *Instance) OpenFile(path string) (FileInfo, error) {
	var info FileInfo
	var openErr error
	err := i.do(func(st *state) {
		sess := capture.NewSession()
		if openErr = streamFile(path, i.opts.ChunkBytes, sess); openErr != nil {
			return
		}
		st.sess = sess
		st.path = path
		info = fileInfo(path, sess)
		logger.Infof("opened %s: %d frames, link type %d", path, len(sess.Frames), sess.LinkType)
	})
	if err != nil {
		return FileInfo{}, err
	}
	return info, openErr
}

// AppendBytes feeds a chunk to the open session, creating an empty session
// on first use for callers that own the byte source themselves.
func (i *Instance) AppendBytes(chunk []byte) error {
	var appendErr error
	err := i.do(func(st *state) {
		if st.sess == nil {
			st.sess = capture.NewSession()
		}
		appendErr = st.sess.Append(chunk)
	})
	if err != nil {
		return err
	}
	return appendErr
}

// CloseFile drops the open capture. It is not an error to close twice.
func (i *Instance) CloseFile() error {
	return i.do(func(st *state) {
		if st.sess != nil {
			logger.Debugf("closed %s", st.path)
		}
		st.sess = nil
		st.path = ""
	})
}

// Progress reports the open session's parse position.
func (i *Instance) Progress() (capture.Progress, error) {
	var p capture.Progress
	var qErr error
	err := i.do(func(st *state) {
		if st.sess == nil {
			qErr = ErrNoCapture
			return
		}
		p = st.sess.Progress()
	})
	if err != nil {
		return capture.Progress{}, err
	}
	return p, qErr
}

// query wraps the shared "need an open session" check for read commands.
func (i *Instance) query(fn func(sess *capture.Session)) error {
	var qErr error
	err := i.do(func(st *state) {
		if st.sess == nil {
			qErr = ErrNoCapture
			return
		}
		fn(st.sess)
	})
	if err != nil {
		return err
	}
	return qErr
}
