// Package purge removes everything a previous import published: its
// catalog rows and the objects stored under its inventory numbers.
package purge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
	"github.com/dharsanguruparan/ArchiveDrop/internal/s3storage"
)

// ErrNoImport is returned when the state names no import to purge.
var ErrNoImport = errors.New("no previous import recorded")

// Catalog deletes catalog rows.
type Catalog interface {
	DeleteImport(ctx context.Context, code string) error
}

// ObjectStore lists and deletes objects.
type ObjectStore interface {
	List(ctx context.Context, prefix, startAfter string) ([]string, error)
	DeleteMany(ctx context.Context, keys []string) error
}

// Report counts what a purge removed.
type Report struct {
	CatalogDeleted bool
	// Deleted maps each key category to the number of objects removed.
	Deleted map[string]int
}

// Purger removes a previous import.
type Purger struct {
	catalog    Catalog
	store      ObjectStore
	categories []string
	log        *zap.Logger
}

// New returns a Purger working on every s3storage key category.
func New(catalog Catalog, store ObjectStore, log *zap.Logger) *Purger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Purger{catalog: catalog, store: store, categories: s3storage.Categories, log: log}
}

// Purge deletes the catalog import starting at state's base code, then
// every object whose file name starts with "<prefix>_" and whose second
// "_" token is not below the base number. Categories are purged in
// parallel; failures are collected and do not stop the other categories.
func (p *Purger) Purge(ctx context.Context, state model.ImportState) (*Report, error) {
	if state.Prefix == "" || state.BaseNumber < 1 {
		return nil, ErrNoImport
	}
	log := p.log.With(zap.String("prefix", state.Prefix), zap.String("base", state.BaseCode()))
	report := &Report{Deleted: make(map[string]int)}
	var errs *multierror.Error

	if err := p.catalog.DeleteImport(ctx, state.BaseCode()); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("delete catalog import: %w", err))
	} else {
		report.CatalogDeleted = true
	}

	var mu sync.Mutex
	swg := sizedwaitgroup.New(len(p.categories))
	for _, category := range p.categories {
		swg.Add()
		go func(category string) {
			defer swg.Done()
			n, err := p.purgeCategory(ctx, category, state)
			mu.Lock()
			defer mu.Unlock()
			report.Deleted[category] = n
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", category, err))
			}
		}(category)
	}
	swg.Wait()

	log.Info("previous import purged", zap.Bool("catalog", report.CatalogDeleted), zap.Any("deleted", report.Deleted))
	return report, errs.ErrorOrNil()
}

func (p *Purger) purgeCategory(ctx context.Context, category string, state model.ImportState) (int, error) {
	namePrefix := state.Prefix + "_"
	keys, err := p.store.List(ctx, category+namePrefix, "")
	if err != nil {
		return 0, err
	}
	base := fmt.Sprintf("%07d", state.BaseNumber)
	var doomed []string
	for _, key := range keys {
		if Matches(s3storage.FileName(key), namePrefix, base) {
			doomed = append(doomed, key)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	if err := p.store.DeleteMany(ctx, doomed); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

// Matches reports whether an object file name belongs to the import whose
// zero-padded base number is base. The comparison is lexicographic, which
// equals numeric order for seven digit numbers.
func Matches(name, namePrefix, base string) bool {
	if !strings.HasPrefix(name, namePrefix) {
		return false
	}
	token := model.SecondToken(name)
	return token != "" && token >= base
}
