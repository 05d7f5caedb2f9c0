package playback

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	shellwords "github.com/mattn/go-shellwords"
)

// ExecSink pipes audio bytes to an external player command, one process per
// segment. The command must read audio from stdin and exit when the stream
// ends, e.g. "ffplay -autoexit -nodisp -loglevel quiet -".
type ExecSink struct {
	cmd []string
}

func NewExecSink(command string) (*ExecSink, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse playback command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("playback command empty")
	}
	return &ExecSink{cmd: args}, nil
}

func (s *ExecSink) Open(audio []byte, mimeType string) (Resource, error) {
	base := s.cmd[0]
	args := append([]string{}, s.cmd[1:]...)
	return &execResource{
		audio: audio,
		cmd:   exec.Command(base, args...),
		done:  make(chan error, 1),
	}, nil
}

type execResource struct {
	audio   []byte
	cmd     *exec.Cmd
	done    chan error
	started bool
}

func (r *execResource) Start() error {
	stdin, err := r.cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := r.cmd.Start(); err != nil {
		return err
	}
	r.started = true

	go func() {
		// A write error here usually means the player exited early;
		// Wait reports the real outcome.
		_, _ = stdin.Write(r.audio)
		_ = stdin.Close()
	}()
	go func() {
		r.done <- r.cmd.Wait()
	}()
	return nil
}

func (r *execResource) Done() <-chan error {
	return r.done
}

func (r *execResource) Release() error {
	if !r.started || r.cmd.Process == nil || r.cmd.ProcessState != nil {
		return nil
	}
	if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
