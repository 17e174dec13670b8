package duckdb

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	pkgerrors "github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/infrastructure/converter"
)

// DefaultMaxOutputBytes caps the CLI's stdout.
const DefaultMaxOutputBytes = 24 * 1024 * 1024

var errOutputTooLarge = errors.New("stdout exceeded the output limit")

// CLIBackend spawns one DuckDB CLI process per call and parses its JSON
// output.
type CLIBackend struct {
	binary   string
	dataset  string
	maxBytes int
	logger   zerolog.Logger
}

// NewCLIBackend returns a backend running binary ("duckdb" when empty).
func NewCLIBackend(binary, dataset string, maxOutputBytes int, logger zerolog.Logger) *CLIBackend {
	if binary == "" {
		binary = "duckdb"
	}
	if maxOutputBytes <= 0 {
		maxOutputBytes = DefaultMaxOutputBytes
	}
	return &CLIBackend{
		binary:   binary,
		dataset:  dataset,
		maxBytes: maxOutputBytes,
		logger:   logger.With().Str("backend", BackendCLI).Logger(),
	}
}

// Name implements Backend.
func (b *CLIBackend) Name() string { return BackendCLI }

// Binary returns the executable the backend runs.
func (b *CLIBackend) Binary() string { return b.binary }

// Run implements Backend.
func (b *CLIBackend) Run(ctx context.Context, sql string, timeout time.Duration) ([]*converter.RowObject, error) {
	if err := ensureDataset(b.dataset); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}

	script := ViewSQL(b.dataset) + ";\n" + sql
	cmd := exec.CommandContext(runCtx, b.binary, "-json", ":memory:", "-c", script)
	cmd.WaitDelay = time.Second

	stdout := &cappedBuffer{max: b.maxBytes, onOverflow: cancel}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	b.logger.Debug().Str("binary", b.binary).Dur("timeout", timeout).Msg("Spawning DuckDB CLI")

	if err := b.start(cmd); err != nil {
		if runCtx.Err() != nil {
			if ctx.Err() != nil {
				return nil, contextError(ctx.Err(), timeout)
			}
			return nil, timeoutError(timeout)
		}
		return nil, err
	}

	err := cmd.Wait()
	switch {
	case stdout.overflow:
		return nil, pkgerrors.Wrapf(errOutputTooLarge, pkgerrors.CodeQueryFailed,
			"DuckDB output exceeded %d bytes.", b.maxBytes)
	case err != nil && runCtx.Err() != nil:
		if ctx.Err() != nil {
			return nil, contextError(ctx.Err(), timeout)
		}
		return nil, timeoutError(timeout)
	case err != nil:
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "DuckDB query failed."
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeQueryFailed, msg)
	}

	return converter.DecodeJSONRows(stdout.Bytes())
}

// start launches cmd. A binary that is absent from PATH or from its explicit
// path is reported as exec.ErrNotFound; any other start failure is not.
func (b *CLIBackend) start(cmd *exec.Cmd) error {
	err := cmd.Start()
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return pkgerrors.Wrapf(&exec.Error{Name: b.binary, Err: exec.ErrNotFound},
			pkgerrors.CodeEngineUnavailable, "DuckDB executable %q not found.", b.binary)
	}
	return pkgerrors.Wrapf(err, pkgerrors.CodeEngineUnavailable, "failed to start DuckDB executable %q.", b.binary)
}

// cappedBuffer collects stdout up to max bytes and stops the process when
// more arrives.
type cappedBuffer struct {
	buf        bytes.Buffer
	max        int
	overflow   bool
	onOverflow func()
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.buf.Len()+len(p) > c.max {
		c.overflow = true
		c.onOverflow()
		return 0, errOutputTooLarge
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) Bytes() []byte { return c.buf.Bytes() }
