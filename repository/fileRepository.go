package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/assoctools/rolesync/entity"
)

// FileRepository persists members as a single JSON object keyed by email,
// the save.json format. Save overwrites the whole file.
type FileRepository struct {
	path string
}

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

func (r *FileRepository) Load() (map[string]*entity.Member, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*entity.Member{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}

	var members map[string]*entity.Member
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", r.path, err)
	}

	for email, member := range members {
		member.Email = email
	}
	return members, nil
}

// Save writes through a temp file and renames, so a crash mid-write cannot
// leave a truncated state file.
func (r *FileRepository) Save(members map[string]*entity.Member) error {
	data, err := json.MarshalIndent(members, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal members: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}

	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", tmp.Name(), err)
	}
	return nil
}
