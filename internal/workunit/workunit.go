// Package workunit prepares the self-contained scratch directory that one
// backend run consumes: a playbook, the role bundle and an inventory.
package workunit

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/rileyhilliard/fleetup/internal/catalog"
	"github.com/rileyhilliard/fleetup/internal/errors"
)

const (
	// DirPrefix starts every scratch directory name.
	DirPrefix = "fleetup-"

	// DefaultBecomePasswordEnv is the variable the playbook reads the become
	// password from.
	DefaultBecomePasswordEnv = "FLEETUP_BECOME_PASS"

	// EmptyInventory is written when a unit targets no hosts.
	EmptyInventory = "localhost ansible_connection=local"

	localConnection = "ansible_connection=local"
)

// Unit is one prepared backend invocation. The credential stays in memory
// and is handed to the backend through the environment only.
type Unit struct {
	ID    string
	Dir   string
	Tool  string
	Hosts []string

	credential string
}

// HasCredential reports whether the unit carries a become password.
func (u *Unit) HasCredential() bool {
	return u.credential != ""
}

// Credential returns the become password, or "".
func (u *Unit) Credential() string {
	return u.credential
}

// ProjectDir holds the playbook.
func (u *Unit) ProjectDir() string { return filepath.Join(u.Dir, "project") }

// PlaybookPath is the rendered playbook.
func (u *Unit) PlaybookPath() string { return filepath.Join(u.ProjectDir(), "playbook.yml") }

// RolesDir holds the copied role bundle.
func (u *Unit) RolesDir() string { return filepath.Join(u.Dir, "roles") }

// InventoryPath is the rendered inventory.
func (u *Unit) InventoryPath() string { return filepath.Join(u.Dir, "inventory", "hosts") }

// Builder turns (tool, hosts, credential) into Units.
type Builder struct {
	Catalog catalog.RoleCatalog

	// ScratchRoot is where unit directories are created. os.TempDir() when empty.
	ScratchRoot string

	// BecomePasswordEnv names the variable the playbook looks the become
	// password up from.
	BecomePasswordEnv string

	// LoopbackAliases are written to the inventory with a local connection.
	LoopbackAliases []string

	newID func() string
}

// NewBuilder creates a builder with default settings.
func NewBuilder(cat catalog.RoleCatalog, scratchRoot string) *Builder {
	return &Builder{
		Catalog:           cat,
		ScratchRoot:       scratchRoot,
		BecomePasswordEnv: DefaultBecomePasswordEnv,
		LoopbackAliases:   []string{"localhost", "127.0.0.1", "::1"},
	}
}

// Build locates the role for tool and lays out a fresh unit directory.
// Nothing is written when the tool is unknown. On any later failure the
// partially written directory is removed.
func (b *Builder) Build(tool string, hosts []string, credential string) (*Unit, error) {
	bundle, err := b.Catalog.LocateBundle(tool)
	if err != nil {
		return nil, err
	}

	dir, id, err := b.makeScratchDir()
	if err != nil {
		return nil, err
	}

	unit := &Unit{
		ID:         id,
		Dir:        dir,
		Tool:       tool,
		Hosts:      append([]string(nil), hosts...),
		credential: credential,
	}

	if err := b.populate(unit, bundle); err != nil {
		_ = Teardown(unit)
		return nil, err
	}

	return unit, nil
}

func (b *Builder) makeScratchDir() (string, string, error) {
	root := b.ScratchRoot
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", "", scratchError(err, root)
	}

	newID := b.newID
	if newID == nil {
		newID = uuid.NewString
	}

	// Mkdir fails on an existing path, so a collision never shares a directory
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		id := newID()
		dir := filepath.Join(root, DirPrefix+id)
		err := os.Mkdir(dir, 0700)
		if err == nil {
			return dir, id, nil
		}
		lastErr = err
		if !os.IsExist(err) {
			break
		}
	}
	return "", "", scratchError(lastErr, root)
}

func (b *Builder) populate(u *Unit, bundle string) error {
	for _, d := range []string{u.ProjectDir(), u.RolesDir(), filepath.Dir(u.InventoryPath())} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return scratchError(err, d)
		}
	}

	playbook, err := RenderPlaybook(u.Tool, u.HasCredential(), b.becomeEnv())
	if err != nil {
		return err
	}
	if err := os.WriteFile(u.PlaybookPath(), playbook, 0600); err != nil {
		return scratchError(err, u.PlaybookPath())
	}

	if err := copyTree(bundle, filepath.Join(u.RolesDir(), u.Tool)); err != nil {
		return errors.WrapWithCode(err, errors.ErrBackendFailed,
			fmt.Sprintf("Couldn't copy role bundle %s", bundle),
			"Check that the role directory is readable.")
	}

	inventory := RenderInventory(u.Hosts, b.LoopbackAliases)
	if err := os.WriteFile(u.InventoryPath(), []byte(inventory), 0600); err != nil {
		return scratchError(err, u.InventoryPath())
	}

	return nil
}

func (b *Builder) becomeEnv() string {
	if b.BecomePasswordEnv == "" {
		return DefaultBecomePasswordEnv
	}
	return b.BecomePasswordEnv
}

// Teardown removes the unit directory and drops the credential. Safe to call
// more than once and on nil.
func Teardown(u *Unit) error {
	if u == nil {
		return nil
	}
	u.credential = ""
	if u.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(u.Dir); err != nil {
		return scratchError(err, u.Dir)
	}
	return nil
}

type play struct {
	Name        string            `yaml:"name"`
	Hosts       string            `yaml:"hosts"`
	GatherFacts bool              `yaml:"gather_facts"`
	Become      bool              `yaml:"become"`
	Vars        map[string]string `yaml:"vars,omitempty"`
	Tasks       []task            `yaml:"tasks"`
}

type task struct {
	Name       string     `yaml:"name"`
	ImportRole importRole `yaml:"import_role"`
}

type importRole struct {
	Name string `yaml:"name"`
}

// RenderPlaybook renders the single-play playbook that applies the tool's
// role. With a credential the become password is an environment lookup.
func RenderPlaybook(tool string, withCredential bool, becomeEnv string) ([]byte, error) {
	p := play{
		Name:        "Install " + tool,
		Hosts:       "all",
		GatherFacts: false,
		Become:      true,
		Tasks: []task{{
			Name:       "Apply " + tool + " role",
			ImportRole: importRole{Name: tool},
		}},
	}
	if withCredential {
		p.Vars = map[string]string{
			"ansible_become_password": fmt.Sprintf("{{ lookup('env', '%s') }}", becomeEnv),
		}
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode([]play{p}); err != nil {
		return nil, fmt.Errorf("failed to encode playbook: %w", err)
	}
	encoder.Close()

	return append([]byte("---\n"), buf.Bytes()...), nil
}

// RenderInventory writes one host per line. Loopback aliases get a local
// connection; an empty host set targets the local machine.
func RenderInventory(hosts []string, loopbacks []string) string {
	if len(hosts) == 0 {
		return EmptyInventory + "\n"
	}

	var sb strings.Builder
	for _, h := range hosts {
		sb.WriteString(h)
		if isLoopback(h, loopbacks) {
			sb.WriteString(" " + localConnection)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func isLoopback(alias string, loopbacks []string) bool {
	for _, l := range loopbacks {
		if strings.EqualFold(alias, l) {
			return true
		}
	}
	return false
}

// copyTree copies src into dst, keeping file modes and symlinks.
func copyTree(src, dst string) error {
	src, err := filepath.EvalSymlinks(src)
	if err != nil {
		return err
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			// Sockets, devices and pipes have no place in a role
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func scratchError(err error, path string) *errors.Error {
	return errors.WrapWithCode(err, errors.ErrBackendFailed,
		fmt.Sprintf("Couldn't prepare work directory %s", path),
		"Check that scratch_dir in fleetup.yaml points at a writable directory.")
}
