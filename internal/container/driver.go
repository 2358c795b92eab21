// Package container implements the Container Driver: a thin, typed
// façade over the container CLI (create/start/stop/remove/inspect/exec/
// logs/cp). Every operation shells out to the configured binary rather
// than speaking the Docker Engine API, so the same driver works against
// docker and podman unchanged.
package container

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/perry-systems/perryd/internal/apperr"
	"github.com/perry-systems/perryd/internal/logging"
	"github.com/perry-systems/perryd/internal/tracing"
)

var tracer = tracing.Tracer("perryd/container")

// Driver shells out to the container CLI (docker or podman).
type Driver struct {
	binary string
	log    *logging.Logger
}

// New returns a Driver invoking binary ("docker" or "podman").
func New(binary string, log *logging.Logger) *Driver {
	if binary == "" {
		binary = "docker"
	}
	return &Driver{binary: binary, log: log}
}

// ExecResult is the outcome of a blocking exec.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Spec describes a container to create.
type Spec struct {
	Name      string
	Image     string
	Hostname  string
	Env       map[string]string
	PortBinds map[int]int // containerPort -> hostPort
	Labels    map[string]string
}

func (d *Driver) run(ctx context.Context, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, d.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return stdout.Bytes(), stderr.Bytes(), apperr.ContainerErrorf(exitErr.ExitCode(), stdout.String(), stderr.String(), append([]string{d.binary}, args...))
		}
		return stdout.Bytes(), stderr.Bytes(), apperr.Wrap(apperr.ConnectionFailed, fmt.Sprintf("invoking %s", d.binary), err)
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

// Create creates (but does not start) a container from spec.
func (d *Driver) Create(ctx context.Context, spec Spec) (string, error) {
	args := []string{"create", "--name", spec.Name, "--hostname", spec.Hostname}
	for k, v := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	for containerPort, hostPort := range spec.PortBinds {
		args = append(args, "-p", fmt.Sprintf("%d:%d", hostPort, containerPort))
	}
	for k, v := range spec.Labels {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, spec.Image)

	stdout, _, err := d.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(stdout)), nil
}

// Start starts a previously created (or stopped) container.
func (d *Driver) Start(ctx context.Context, name string) error {
	_, _, err := d.run(ctx, "start", name)
	return err
}

// Stop gracefully stops a container, waiting up to timeout before the
// runtime escalates to SIGKILL. Stopping an unknown name reports
// NOT_FOUND so lifecycle callers can treat it as already gone.
func (d *Driver) Stop(ctx context.Context, name string, timeout time.Duration) error {
	_, _, err := d.run(ctx, "stop", "-t", fmt.Sprintf("%d", int(timeout.Seconds())), name)
	return mapNotFound(err, name)
}

// Remove removes a container, optionally forcing removal of a running
// one. Removing an unknown name reports NOT_FOUND.
func (d *Driver) Remove(ctx context.Context, name string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, name)
	_, _, err := d.run(ctx, args...)
	return mapNotFound(err, name)
}

// mapNotFound converts a "no such container" CLI failure into NOT_FOUND,
// which both docker and podman report on stderr.
func mapNotFound(err error, name string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := apperr.As(err); ok && strings.Contains(strings.ToLower(appErr.Stderr), "no such") {
		return apperr.NotFoundf("container", name)
	}
	return err
}

// Info is the subset of `inspect` output the daemon needs.
type Info struct {
	Running bool
	Status  string
	Ports   map[string]int
}

type inspectOutput struct {
	State struct {
		Running bool   `json:"Running"`
		Status  string `json:"Status"`
	} `json:"State"`
	NetworkSettings struct {
		Ports map[string][]struct {
			HostPort string `json:"HostPort"`
		} `json:"Ports"`
	} `json:"NetworkSettings"`
}

// Inspect returns the current state and port bindings of name. An unknown
// name returns a NOT_FOUND error without logging, so routine existence
// checks don't spam the log.
func (d *Driver) Inspect(ctx context.Context, name string) (*Info, error) {
	stdout, _, err := d.run(ctx, "inspect", name)
	if err != nil {
		return nil, mapNotFound(err, name)
	}
	var parsed []inspectOutput
	if err := json.Unmarshal(stdout, &parsed); err != nil || len(parsed) == 0 {
		return nil, apperr.Wrap(apperr.Internal, "parsing inspect output", err)
	}
	info := &Info{
		Running: parsed[0].State.Running,
		Status:  parsed[0].State.Status,
		Ports:   map[string]int{},
	}
	for containerPort, bindings := range parsed[0].NetworkSettings.Ports {
		if len(bindings) == 0 {
			continue
		}
		var hostPort int
		fmt.Sscanf(bindings[0].HostPort, "%d", &hostPort)
		info.Ports[containerPort] = hostPort
	}
	return info, nil
}

// ExecOptions configures a blocking or streaming exec invocation.
type ExecOptions struct {
	User    string
	Workdir string
	Env     map[string]string
}

func (d *Driver) execArgs(name string, argv []string, opts ExecOptions, interactive bool) []string {
	args := []string{"exec"}
	if interactive {
		args = append(args, "-i")
	}
	if opts.User != "" {
		args = append(args, "-u", opts.User)
	}
	if opts.Workdir != "" {
		args = append(args, "-w", opts.Workdir)
	}
	for k, v := range opts.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, name)
	args = append(args, argv...)
	return args
}

// Exec runs argv inside name and blocks for the result.
func (d *Driver) Exec(ctx context.Context, name string, argv []string, opts ExecOptions) (*ExecResult, error) {
	ctx, span := tracer.Start(ctx, "container.exec", trace.WithAttributes(attribute.String("container.name", name)))
	defer span.End()

	result, err := d.exec(ctx, name, argv, opts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (d *Driver) exec(ctx context.Context, name string, argv []string, opts ExecOptions) (*ExecResult, error) {
	args := d.execArgs(name, argv, opts, false)
	cmd := exec.CommandContext(ctx, d.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	result := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr == nil {
		result.ExitCode = 0
		return result, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, apperr.ContainerErrorf(result.ExitCode, result.Stdout, result.Stderr, append([]string{d.binary}, args...))
	}
	return result, apperr.Wrap(apperr.ConnectionFailed, fmt.Sprintf("invoking %s exec", d.binary), runErr)
}

// StreamProcess is a running, interactively-attached exec invocation, used
// both by the PTY multiplexer and the session manager's agent CLI
// launch.
type StreamProcess struct {
	cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// ExecStream starts argv inside name with stdin/stdout/stderr pipes
// attached for the caller to pump bytes through.
func (d *Driver) ExecStream(ctx context.Context, name string, argv []string, opts ExecOptions) (*StreamProcess, error) {
	args := d.execArgs(name, argv, opts, true)
	cmd := exec.CommandContext(ctx, d.binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrap(apperr.ConnectionFailed, fmt.Sprintf("starting %s exec", d.binary), err)
	}
	return &StreamProcess{cmd: cmd, Stdin: stdin, Stdout: stdout, Stderr: stderr}, nil
}

// Wait blocks until the streamed process exits and returns its exit code.
func (p *StreamProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Kill sends SIGKILL to the streamed process. No SIGTERM is sent first,
// and other members of its process group are not signalled.
func (p *StreamProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Binary returns the configured container CLI name ("docker" or "podman").
func (d *Driver) Binary() string { return d.binary }

// TTYCommand builds (but does not start) an *exec.Cmd allocating a
// pseudo-terminal inside name for argv, for callers that need to wrap it
// in a host-side pty rather than plain pipes.
func (d *Driver) TTYCommand(ctx context.Context, name string, argv []string, opts ExecOptions) *exec.Cmd {
	args := d.execArgs(name, argv, opts, true)
	args = append(args[:1:1], append([]string{"-t"}, args[1:]...)...)
	return exec.CommandContext(ctx, d.binary, args...)
}

// CopyIn writes data into containerPath inside name, with the given
// permissions and owner.
func (d *Driver) CopyIn(ctx context.Context, name string, data []byte, containerPath, perm, owner string) error {
	dirArgs := []string{"exec", name, "mkdir", "-p", parentDir(containerPath)}
	if _, _, err := d.run(ctx, dirArgs...); err != nil {
		return err
	}

	args := []string{"exec", "-i", name, "sh", "-c", fmt.Sprintf("cat > %s", shellQuote(containerPath))}
	cmd := exec.CommandContext(ctx, d.binary, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return apperr.ContainerErrorf(exitErr.ExitCode(), stdout.String(), stderr.String(), args)
		}
		return apperr.Wrap(apperr.ConnectionFailed, "copying file into container", err)
	}

	if perm != "" {
		if _, _, err := d.run(ctx, "exec", name, "chmod", perm, containerPath); err != nil {
			return err
		}
	}
	if owner != "" {
		if _, _, err := d.run(ctx, "exec", name, "chown", owner, containerPath); err != nil {
			return err
		}
	}
	return nil
}

// Logs returns the last `tail` lines of name's stdout/stderr.
func (d *Driver) Logs(ctx context.Context, name string, tail int) (string, error) {
	stdout, _, err := d.run(ctx, "logs", "--tail", fmt.Sprintf("%d", tail), name)
	if err != nil {
		return "", err
	}
	return string(stdout), nil
}

// ImageExists reports whether image is present locally.
func (d *Driver) ImageExists(ctx context.Context, image string) bool {
	_, _, err := d.run(ctx, "image", "inspect", image)
	return err == nil
}

// Version returns the container runtime's reported version string.
func (d *Driver) Version(ctx context.Context) (string, error) {
	stdout, _, err := d.run(ctx, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(stdout)), nil
}

func parentDir(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
