// Package storage хранит и выдаёт артефакты воркфлоу: загруженные файлы и удалённые объекты.
package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrNotExist возвращается, если артефакт по указанному расположению отсутствует.
	ErrNotExist = errors.New("artifact does not exist")
	// ErrTooLarge возвращается, если загружаемый файл превышает допустимый размер.
	ErrTooLarge = errors.New("artifact is too large")
)

// Object — открытый для чтения артефакт. Body закрывает вызывающий.
type Object struct {
	Body io.ReadCloser
	// Size равен -1, если размер заранее неизвестен.
	Size int64
	Name string
}

// Router выбирает хранилище по расположению артефакта: http(s) ссылки обслуживает
// RemoteStore, всё остальное считается именем файла в LocalStore.
type Router struct {
	local  *LocalStore
	remote *RemoteStore
}

// NewRouter создаёт маршрутизатор хранилищ. remote может быть nil, тогда удалённые
// артефакты считаются отсутствующими.
func NewRouter(local *LocalStore, remote *RemoteStore) *Router {
	return &Router{local: local, remote: remote}
}

// Save сохраняет загруженный продавцом файл в локальное хранилище.
func (r *Router) Save(sellerID int64, filename string, src io.Reader) (string, int64, error) {
	return r.local.Save(sellerID, filename, src)
}

// Open открывает артефакт по его расположению.
func (r *Router) Open(ctx context.Context, location string) (*Object, error) {
	if IsRemote(location) {
		if r.remote == nil {
			return nil, ErrNotExist
		}
		return r.remote.Open(ctx, location)
	}
	return r.local.Open(ctx, location)
}

// Remove удаляет локальный артефакт. Удалённые объекты хранилищу не принадлежат и не трогаются.
func (r *Router) Remove(location string) error {
	if IsRemote(location) {
		return nil
	}
	return r.local.Remove(location)
}

// IsRemote сообщает, указывает ли расположение на удалённый http(s) объект.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Ext возвращает расширение имени артефакта в нижнем регистре, включая точку.
func Ext(location string) string {
	if IsRemote(location) {
		if u, err := url.Parse(location); err == nil {
			return strings.ToLower(path.Ext(u.Path))
		}
	}
	return strings.ToLower(filepath.Ext(location))
}
