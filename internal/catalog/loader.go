package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"game_host/internal/domain"
)

// файлы определения игры внутри каталога <dir>/<name>/
const (
	MetadataFile = "game.yaml"
	ClientFile   = "client.js"
	ServerFile   = "server.lua"
)

// Loader источник определений игр
type Loader interface {
	Load(ctx context.Context, name string) (domain.GameDefinition, error)
	List(ctx context.Context) ([]string, error)
}

// DirLoader читает определения из файловой системы
type DirLoader struct {
	fsys fs.FS
}

func NewDirLoader(dir string) *DirLoader {
	return &DirLoader{fsys: os.DirFS(dir)}
}

// NewFSLoader загрузчик поверх произвольной fs.FS (embed, testing/fstest)
func NewFSLoader(fsys fs.FS) *DirLoader {
	return &DirLoader{fsys: fsys}
}

func (l *DirLoader) Load(ctx context.Context, name string) (domain.GameDefinition, error) {
	if err := ctx.Err(); err != nil {
		return domain.GameDefinition{}, err
	}
	if !validName(name) {
		return domain.GameDefinition{}, fmt.Errorf("%w: %q", domain.ErrUnknownGame, name)
	}

	meta, err := fs.ReadFile(l.fsys, name+"/"+MetadataFile)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.GameDefinition{}, fmt.Errorf("%w: %q", domain.ErrUnknownGame, name)
	}
	if err != nil {
		return domain.GameDefinition{}, fmt.Errorf("read %s metadata: %w", name, err)
	}

	var def domain.GameDefinition
	if err := yaml.Unmarshal(meta, &def); err != nil {
		return domain.GameDefinition{}, fmt.Errorf("parse %s metadata: %w", name, err)
	}
	if def.Name == "" {
		def.Name = name
	}
	if def.ID == "" {
		def.ID = name
	}

	client, err := fs.ReadFile(l.fsys, name+"/"+ClientFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.GameDefinition{}, fmt.Errorf("read %s client: %w", name, err)
	}
	server, err := fs.ReadFile(l.fsys, name+"/"+ServerFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.GameDefinition{}, fmt.Errorf("read %s server: %w", name, err)
	}
	def.Source = domain.Source{Client: string(client), Server: string(server)}

	if err := def.Validate(); err != nil {
		return domain.GameDefinition{}, err
	}
	return def, nil
}

// List имена каталогов, содержащих game.yaml
func (l *DirLoader) List(ctx context.Context) ([]string, error) {
	entries, err := fs.ReadDir(l.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	var names []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || !validName(e.Name()) {
			continue
		}
		if _, err := fs.Stat(l.fsys, e.Name()+"/"+MetadataFile); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
