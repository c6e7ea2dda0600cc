package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// LocalStore хранит загруженные артефакты в каталоге на диске.
type LocalStore struct {
	root     string
	maxBytes int64
}

// NewLocalStore создаёт хранилище в каталоге root, создавая его при необходимости.
// maxBytes ограничивает размер одного файла, 0 снимает ограничение.
func NewLocalStore(root string, maxBytes int64) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{root: root, maxBytes: maxBytes}, nil
}

// Save записывает файл под именем {sellerID}_{uuid}_{имя} и возвращает это имя и размер.
// Файл сверх лимита удаляется, возвращается ErrTooLarge.
func (s *LocalStore) Save(sellerID int64, filename string, src io.Reader) (string, int64, error) {
	name := strconv.FormatInt(sellerID, 10) + "_" + uuid.NewString() + "_" + SafeName(filepath.Base(filename))
	full := filepath.Join(s.root, name)

	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create artifact file: %w", err)
	}

	reader := src
	if s.maxBytes > 0 {
		reader = io.LimitReader(src, s.maxBytes+1)
	}

	n, err := io.Copy(f, reader)
	closeErr := f.Close()
	switch {
	case err != nil:
		os.Remove(full)
		return "", 0, fmt.Errorf("write artifact file: %w", err)
	case closeErr != nil:
		os.Remove(full)
		return "", 0, fmt.Errorf("close artifact file: %w", closeErr)
	case s.maxBytes > 0 && n > s.maxBytes:
		os.Remove(full)
		return "", 0, ErrTooLarge
	}

	return name, n, nil
}

// Open открывает сохранённый файл. Имена с разделителями каталогов не принимаются.
func (s *LocalStore) Open(_ context.Context, location string) (*Object, error) {
	if location == "" || filepath.Base(location) != location || location == ".." {
		return nil, ErrNotExist
	}

	f, err := os.Open(filepath.Join(s.root, location))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("open artifact file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat artifact file: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotExist
	}

	return &Object{Body: f, Size: info.Size(), Name: location}, nil
}

// Remove удаляет сохранённый файл. Отсутствующий файл ошибкой не считается.
func (s *LocalStore) Remove(location string) error {
	if location == "" || filepath.Base(location) != location || location == ".." {
		return ErrNotExist
	}
	if err := os.Remove(filepath.Join(s.root, location)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact file: %w", err)
	}
	return nil
}

// SafeName оставляет в имени только латинские буквы, цифры, точку, дефис и подчёркивание.
func SafeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}
