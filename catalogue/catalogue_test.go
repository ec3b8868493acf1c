package catalogue

import (
	"testing"

	"github.com/xpublish-community/edrserve/dataset"
	"github.com/xpublish-community/edrserve/utils"
)

func TestCollectionID(t *testing.T) {
	if got := CollectionID("", "sst"); got != "sst" {
		t.Errorf("expected sst, got %v", got)
	}
	if got := CollectionID(".", "sst"); got != "sst" {
		t.Errorf("expected sst for root namespace, got %v", got)
	}
	if got := CollectionID("ocean", "sst"); got != "ocean/sst" {
		t.Errorf("expected ocean/sst, got %v", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Add(&Collection{
		NameSpace: "ocean",
		Def:       utils.DatasetDef{Name: "sst", NameSpace: "ocean"},
		Data:      dataset.New("sst"),
	})
	r.Add(&Collection{
		Def:  utils.DatasetDef{Name: "air"},
		Data: dataset.New("air"),
	})

	if r.Len() != 2 {
		t.Errorf("expected 2 collections, got %d", r.Len())
	}

	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "air" || ids[1] != "ocean/sst" {
		t.Errorf("unexpected ids: %v", ids)
	}

	c, err := r.Get("ocean/sst")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if c.Def.Name != "sst" {
		t.Errorf("unexpected collection: %+v", c.Def)
	}

	if _, err := r.Get("missing"); err == nil {
		t.Errorf("expected error for unknown collection")
	}
}

func TestNilResponseCache(t *testing.T) {
	var c *ResponseCache
	if _, ok := c.Get("/edr/sst/"); ok {
		t.Errorf("nil cache should miss")
	}
	c.Put("/edr/sst/", []byte("x"))
}
