// Package catalog locates role bundles, the directories holding the automation
// content that installs one tool.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rileyhilliard/fleetup/internal/errors"
	"github.com/rileyhilliard/fleetup/internal/util"
)

// RoleCatalog maps tool names to role bundle directories.
type RoleCatalog interface {
	ListTools() ([]string, error)
	LocateBundle(tool string) (string, error)
}

// DirCatalog is a RoleCatalog over one or more directories in which every
// sub-directory is a role named after the tool it installs. Earlier
// directories shadow later ones.
type DirCatalog struct {
	Dirs []string
}

// NewDirCatalog creates a catalog over dirs, in priority order.
func NewDirCatalog(dirs ...string) *DirCatalog {
	return &DirCatalog{Dirs: dirs}
}

// ListTools returns every tool name across all directories, sorted and
// deduplicated. Missing directories are skipped.
func (c *DirCatalog) ListTools() ([]string, error) {
	seen := make(map[string]bool)
	var tools []string

	for _, dir := range c.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Couldn't read role directory %s", dir),
				"Check the roles setting in fleetup.yaml and the directory permissions.")
		}

		for _, e := range entries {
			name := e.Name()
			if !e.IsDir() || strings.HasPrefix(name, ".") || seen[name] {
				continue
			}
			seen[name] = true
			tools = append(tools, name)
		}
	}

	sort.Strings(tools)
	return tools, nil
}

// LocateBundle returns the role directory for tool from the first directory
// that has one.
func (c *DirCatalog) LocateBundle(tool string) (string, error) {
	if tool == "" || strings.ContainsAny(tool, `/\`) || tool == "." || tool == ".." {
		return "", notFound(tool, c.Dirs, nil)
	}

	for _, dir := range c.Dirs {
		path := filepath.Join(dir, tool)
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			return path, nil
		}
	}

	known, _ := c.ListTools()
	return "", notFound(tool, c.Dirs, util.SuggestSimilar(tool, known, 3))
}

func notFound(tool string, dirs []string, similar []string) *errors.Error {
	suggestion := "Run 'fleetup tools' to see the available roles."
	switch {
	case len(similar) > 0:
		suggestion = "Did you mean: " + util.JoinOrNone(similar) + "?"
	case len(dirs) > 0:
		suggestion = fmt.Sprintf("Add a role directory named %q under one of: %s", tool, strings.Join(dirs, ", "))
	}
	return errors.New(errors.ErrToolNotFound,
		fmt.Sprintf("No role bundle for '%s'", tool),
		suggestion)
}

var _ RoleCatalog = (*DirCatalog)(nil)
