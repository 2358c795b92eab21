// Package sync implements the Sync Engine: given an agent-kind
// provider, it materializes env vars, host files and generated config
// files into a running container.
package sync

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/perry-systems/perryd/internal/config"
	"github.com/perry-systems/perryd/internal/container"
	"github.com/perry-systems/perryd/internal/logging"
)

// HostFile is a host file copied as-is into the container.
type HostFile struct {
	HostPath      string
	ContainerPath string
	Optional      bool
	Perm          string // octal, e.g. "0600"
	Owner         string
	Category      string // "credential" or "preference"
}

// HostDir is a host directory copied recursively into the container.
type HostDir struct {
	HostPath      string
	ContainerPath string
	Optional      bool
}

// GeneratedFile is computed content written via copyIn.
type GeneratedFile struct {
	ContainerPath string
	Perm          string
	Content       []byte
}

// Provider declares one agent kind's sync contract.
type Provider interface {
	Name() string
	RequiredDirs() []string
	HostFiles() []HostFile
	HostDirs() []HostDir
	GeneratedFiles(ctx context.Context, drv *container.Driver, containerName string, cfg *config.AgentConfig) ([]GeneratedFile, error)
}

// Engine drives one or more providers against a running container.
type Engine struct {
	drv *container.Driver
	log *logging.Logger
}

// New returns a sync Engine using drv to talk to containers.
func New(drv *container.Driver, log *logging.Logger) *Engine {
	return &Engine{drv: drv, log: log}
}

const (
	credentialPerm = "0600"
	preferencePerm = "0644"
)

// Sync runs every provider's required-dirs -> host-files -> host-dirs ->
// generated-files pipeline against containerName. Sync is idempotent:
// re-running converges to the same container state regardless of prior
// state.
func (e *Engine) Sync(ctx context.Context, containerName string, providers []Provider, cfg *config.AgentConfig) error {
	if err := e.syncEnv(ctx, containerName, cfg); err != nil {
		return err
	}
	if err := e.syncCredentialFiles(ctx, containerName, cfg); err != nil {
		return err
	}
	for _, p := range providers {
		if err := e.syncProvider(ctx, containerName, p, cfg); err != nil {
			return fmt.Errorf("sync provider %s: %w", p.Name(), err)
		}
	}
	return nil
}

// syncEnv performs the ambient, provider-independent credentials.env
// injection step that runs before any provider-specific file sync.
// Values are single-quote escaped for the shell: credential material may
// contain quotes or whitespace and must land in .bashrc byte for byte.
func (e *Engine) syncEnv(ctx context.Context, containerName string, cfg *config.AgentConfig) error {
	if cfg == nil || len(cfg.Credentials.Env) == 0 {
		return nil
	}
	var script string
	for k, v := range cfg.Credentials.Env {
		line := "export " + k + "=" + shellQuote(v)
		script += "echo " + shellQuote(line) + " >> /home/workspace/.bashrc\n"
	}
	_, err := e.drv.Exec(ctx, containerName, []string{"sh", "-c", script}, container.ExecOptions{User: "workspace"})
	return err
}

// shellQuote wraps s in single quotes, escaping embedded single quotes
// the POSIX way.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// syncCredentialFiles provisions the operator-configured credentials.files
// list, independent of any provider. Missing host files are skipped.
func (e *Engine) syncCredentialFiles(ctx context.Context, containerName string, cfg *config.AgentConfig) error {
	if cfg == nil {
		return nil
	}
	for _, f := range cfg.Credentials.Files {
		hf := HostFile{
			HostPath:      f.HostPath,
			ContainerPath: f.ContainerPath,
			Optional:      true,
			Perm:          f.Perm,
			Owner:         f.Owner,
			Category:      f.Category,
		}
		if hf.Category == "" {
			hf.Category = "credential"
		}
		if err := e.copyHostFile(ctx, containerName, hf); err != nil {
			e.log.Debug("credential file sync failed", zap.Error(err), zap.String("path", f.HostPath))
		}
	}
	return nil
}

func (e *Engine) syncProvider(ctx context.Context, containerName string, p Provider, cfg *config.AgentConfig) error {
	for _, dir := range p.RequiredDirs() {
		if _, err := e.drv.Exec(ctx, containerName, []string{"mkdir", "-p", dir}, container.ExecOptions{User: "workspace"}); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	for _, hf := range p.HostFiles() {
		if err := e.copyHostFile(ctx, containerName, hf); err != nil {
			if hf.Optional {
				e.log.Debug("optional host file sync failed", zap.Error(err), zap.String("path", hf.HostPath))
				continue
			}
			return err
		}
	}

	for _, hd := range p.HostDirs() {
		if err := e.copyHostDir(ctx, containerName, hd); err != nil {
			if hd.Optional {
				e.log.Debug("optional host dir sync failed", zap.Error(err), zap.String("path", hd.HostPath))
				continue
			}
			return err
		}
	}

	generated, err := p.GeneratedFiles(ctx, e.drv, containerName, cfg)
	if err != nil {
		return err
	}
	for _, gf := range generated {
		if err := e.drv.CopyIn(ctx, containerName, gf.Content, gf.ContainerPath, gf.Perm, ""); err != nil {
			return fmt.Errorf("writing %s: %w", gf.ContainerPath, err)
		}
	}
	return nil
}

func (e *Engine) copyHostFile(ctx context.Context, containerName string, hf HostFile) error {
	data, err := readHostFile(hf.HostPath)
	if err != nil {
		return err
	}
	perm := hf.Perm
	if perm == "" {
		if hf.Category == "credential" {
			perm = credentialPerm
		} else {
			perm = preferencePerm
		}
	}
	return e.drv.CopyIn(ctx, containerName, data, hf.ContainerPath, perm, hf.Owner)
}

func (e *Engine) copyHostDir(ctx context.Context, containerName string, hd HostDir) error {
	entries, err := listHostDir(hd.HostPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		data, err := readHostFile(entry.hostPath)
		if err != nil {
			continue
		}
		containerPath := hd.ContainerPath + "/" + entry.relPath
		if err := e.drv.CopyIn(ctx, containerName, data, containerPath, preferencePerm, ""); err != nil {
			return err
		}
	}
	return nil
}
