package sessionrt

import (
	"fmt"
	"os"
	"path/filepath"

	hclog "github.com/hashicorp/go-hclog"
	uuid "github.com/hashicorp/go-uuid"
)

// EmbeddedFilesScope controls the symbol-table prefix used for a set of
// materialized files
type EmbeddedFilesScope string

const (
	EmbeddedFilesScopeEnv EmbeddedFilesScope = "Env"
	EmbeddedFilesScopeTask EmbeddedFilesScope = "Task"
)

// EmbeddedFilesMaterializer writes a Script's embedded files to disk and
// registers their absolute paths in a SymbolTable
type EmbeddedFilesMaterializer struct {
	Logger hclog.Logger
	Scope EmbeddedFilesScope
	TargetDirectory string
	User SessionUser
}

type embeddedFileRecord struct {
	symbol string
	filename string
	file EmbeddedFile
}

// Materialize writes files to TargetDirectory and adds `<scope>.File.<name>`
// symbols to symtab. It runs in two passes -- first allocating every
// filename and adding its symbol, then resolving/writing each file's data --
// so that one embedded file's data can reference another embedded file's
// path.
func (m *EmbeddedFilesMaterializer) Materialize(files []EmbeddedFile, symtab SymbolTable) error {
	if m.Scope == EmbeddedFilesScopeEnv {
		m.Logger.Info("writing embedded files for environment to disk")
	} else {
		m.Logger.Info("writing embedded files for task to disk")
	}

	records := make([]embeddedFileRecord, 0, len(files))
	for _, file := range files {
		filename, err := m.allocateFilename(file)
		if err != nil {
			return fmt.Errorf("could not write embedded file: %w", err)
		}
		symbol := fmt.Sprintf("%s.File.%s", m.Scope, file.Name)
		records = append(records, embeddedFileRecord{symbol: symbol, filename: filename, file: file})
	}

	for _, r := range records {
		symtab[r.symbol] = r.filename
		m.Logger.Info("mapping embedded file", "symbol", r.symbol, "path", r.filename)
	}

	for _, r := range records {
		if err := m.materializeFile(r, symtab); err != nil {
			return err
		}
	}
	return nil
}

func (m *EmbeddedFilesMaterializer) allocateFilename(file EmbeddedFile) (string, error) {
	if file.Filename != "" {
		return filepath.Join(m.TargetDirectory, file.Filename), nil
	}
	random, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("generating random embedded-file name: %w", err)
	}
	path := filepath.Join(m.TargetDirectory, random)
	// Reserve the filename on the filesystem, as mkstemp would.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	f.Close()
	return path, nil
}

func (m *EmbeddedFilesMaterializer) materializeFile(r embeddedFileRecord, symtab SymbolTable) error {
	data, err := r.file.Data.Resolve(symtab)
	if err != nil {
		return fmt.Errorf("error resolving format string: %w", err)
	}

	executePermissions := os.FileMode(0)
	if r.file.Runnable {
		executePermissions |= 0o100 // owner execute
		if m.User != nil {
			executePermissions |= 0o010 // group execute
		}
	}

	if err := WriteFileForUser(r.filename, data, m.User, executePermissions); err != nil {
		return fmt.Errorf("could not write embedded file: %w", err)
	}

	m.Logger.Info("wrote embedded file", "name", r.file.Name, "path", r.filename)
	m.Logger.Debug("embedded file contents", "data", data)
	return nil
}
