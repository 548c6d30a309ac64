package dafny

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single verification attempt. Dafny can wander off
// on hard proof obligations, so the adapter enforces this itself rather than
// trusting the process to exit.
const DefaultTimeout = 2 * time.Minute

// bypassMarker disables verification when present in source text. Submitted
// code carrying it is rejected without running the verifier, following the
// DafnyBench methodology.
const bypassMarker = "{:verify false}"

// Verifier invokes the external dafny binary. The zero value is not usable;
// construct with NewVerifier.
type Verifier struct {
	binary  string
	timeout time.Duration
	tempDir string
	logger  zerolog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithBinary sets the dafny executable path (default "dafny").
func WithBinary(path string) Option {
	return func(v *Verifier) { v.binary = path }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithTempDir sets the directory for temporary source artifacts
// (default os.TempDir()).
func WithTempDir(dir string) Option {
	return func(v *Verifier) { v.tempDir = dir }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(v *Verifier) { v.logger = logger }
}

// NewVerifier creates a Verifier with the given options.
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{
		binary:  "dafny",
		timeout: DefaultTimeout,
		tempDir: os.TempDir(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify writes code to a uniquely named temporary file, runs
// `dafny verify` on it with the configured timeout, and classifies the
// result. The temp file name is unique per attempt so concurrent samples
// never collide on the filesystem.
//
// A non-nil error means the verifier process could not be launched at all;
// every other condition, including timeouts and crashes of the verifier,
// is folded into the Outcome.
func (v *Verifier) Verify(ctx context.Context, code string) (Outcome, error) {
	if strings.Contains(strings.ToLower(code), bypassMarker) {
		return Outcome{
			Status: StatusAssertionFailure,
			Diagnostics: "Invalid code: contains " + bypassMarker + " which bypasses verification. " +
				"You must properly verify the code with correct annotations.",
			Stderr:   "bypass attempt detected",
			Category: CategoryOther,
		}, nil
	}

	path := filepath.Join(v.tempDir, "proofloop_"+uuid.New().String()+".dfy")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return Outcome{}, fmt.Errorf("dafny: write temp artifact: %w", err)
	}
	defer os.Remove(path)

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, v.binary, "verify", path)
	// Own process group so a timed-out verifier and its children (dafny
	// spawns Z3 solvers) die together on deadline. The default Cancel only
	// kills the direct child, and Wait would then block until the orphaned
	// solvers release the inherited pipe write-ends; WaitDelay unblocks it
	// even if a descendant survives the kill holding the pipes.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("dafny: launch %s: %w", v.binary, err)
	}
	runErr := cmd.Wait()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		v.logger.Warn().Dur("elapsed", elapsed).Msg("verification timed out")
		return Outcome{
			Status: StatusTimeout,
			Diagnostics: fmt.Sprintf("Verification timed out after %s. "+
				"The program may be too complex or contain infinite loops.", v.timeout),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Category: CategoryOther,
			Duration: elapsed,
		}, nil
	}

	exitCode := 0
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return Outcome{}, fmt.Errorf("dafny: run %s: %w", v.binary, runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	outcome := Outcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}
	outcome.Status = classify(exitCode, outcome.Stdout, outcome.Stderr)

	if outcome.Verified() {
		outcome.Diagnostics = "Verification succeeded. All checks passed."
	} else {
		detail := outcome.Stderr
		if detail == "" {
			detail = outcome.Stdout
		}
		outcome.Diagnostics = "Verification failed:\n\n" + detail
		outcome.Category = Categorize(detail)
	}

	v.logger.Debug().
		Str("status", string(outcome.Status)).
		Int("exit_code", exitCode).
		Dur("elapsed", elapsed).
		Msg("verification attempt")

	return outcome, nil
}
