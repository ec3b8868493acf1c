// Package catalogue tracks the collections the service exposes and
// keeps them in sync with the on-disk configuration.
package catalogue

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/xpublish-community/edrserve/dataset"
	"github.com/xpublish-community/edrserve/utils"
)

// Collection pairs a dataset definition with its loaded data.
type Collection struct {
	NameSpace string
	Def       utils.DatasetDef
	Data      *dataset.Dataset
	Keywords  []string
}

// Registry is the concurrent view of all published collections,
// keyed by collection identifier. A namespace other than the root
// prefixes the identifier.
type Registry struct {
	mu          sync.RWMutex
	collections map[string]*Collection
}

func NewRegistry() *Registry {
	return &Registry{collections: make(map[string]*Collection)}
}

// CollectionID derives the public identifier of a dataset.
func CollectionID(namespace, name string) string {
	if namespace == "" || namespace == "." {
		return name
	}
	return namespace + "/" + name
}

// LoadFromConfig opens every configured dataset and swaps the
// registry content in one step. Datasets that fail to load are
// logged and skipped so one bad file does not take the service down.
func (r *Registry) LoadFromConfig(configMap map[string]*utils.Config, errLog *log.Logger) int {
	loaded := make(map[string]*Collection)
	for _, conf := range configMap {
		for _, def := range conf.Datasets {
			id := CollectionID(def.NameSpace, def.Name)
			ds, err := dataset.LoadNetCDF(def)
			if err != nil {
				if errLog != nil {
					errLog.Printf("failed to load collection %s: %v", id, err)
				}
				continue
			}
			loaded[id] = &Collection{
				NameSpace: def.NameSpace,
				Def:       def,
				Data:      ds,
				Keywords:  append([]string{}, def.Keywords...),
			}
		}
	}

	r.mu.Lock()
	r.collections = loaded
	r.mu.Unlock()
	return len(loaded)
}

// Add registers one collection, replacing any previous entry with
// the same identifier.
func (r *Registry) Add(c *Collection) {
	id := CollectionID(c.NameSpace, c.Def.Name)
	r.mu.Lock()
	r.collections[id] = c
	r.mu.Unlock()
}

// Get looks a collection up by identifier.
func (r *Registry) Get(id string) (*Collection, error) {
	r.mu.RLock()
	c, ok := r.collections[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("collection %s not found", id)
	}
	return c, nil
}

// IDs lists the registered collection identifiers in stable order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.collections))
	for id := range r.collections {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered collections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.collections)
}
