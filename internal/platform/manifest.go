package platform

import (
	"os"
	"path/filepath"

	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/pelletier/go-toml/v2"
)

// Bindings is the subset of a wrangler.toml-style deploy manifest the
// reconcile step is allowed to mutate: the worker's name
// and environment routing, plus its resource bindings.
type Bindings struct {
	Name          string              `toml:"name"`
	Routes        []string            `toml:"routes,omitempty"`
	D1Databases   []map[string]string `toml:"d1_databases,omitempty"`
	KVNamespaces  []map[string]string `toml:"kv_namespaces,omitempty"`
	R2Buckets     []map[string]string `toml:"r2_buckets,omitempty"`
}

// ReconcileManifest merges want into the wrangler.toml under servicePath
// and writes it back atomically, reporting whether anything changed. This
// is the config-reconciliation half of the deploy phase; it never touches
// the build itself (the upstream platform CLI still owns that).
func ReconcileManifest(servicePath string, want Bindings) (changed bool, err error) {
	path := filepath.Join(servicePath, "wrangler.toml")

	var current Bindings
	if data, readErr := os.ReadFile(path); readErr == nil {
		if err := toml.Unmarshal(data, &current); err != nil {
			return false, errortypes.NewValidation("wrangler.toml is not valid TOML").WithCause(err)
		}
	}

	merged := mergeBindings(current, want)
	if bindingsEqual(current, merged) {
		return false, nil
	}

	data, err := toml.Marshal(merged)
	if err != nil {
		return false, errortypes.NewInvariant("encoding reconciled manifest failed").WithCause(err)
	}
	if err := writeAtomic(path, data); err != nil {
		return false, err
	}
	return true, nil
}

func mergeBindings(current, want Bindings) Bindings {
	merged := current
	if want.Name != "" {
		merged.Name = want.Name
	}
	if len(want.Routes) > 0 {
		merged.Routes = want.Routes
	}
	if len(want.D1Databases) > 0 {
		merged.D1Databases = want.D1Databases
	}
	if len(want.KVNamespaces) > 0 {
		merged.KVNamespaces = want.KVNamespaces
	}
	if len(want.R2Buckets) > 0 {
		merged.R2Buckets = want.R2Buckets
	}
	return merged
}

func bindingsEqual(a, b Bindings) bool {
	am, _ := toml.Marshal(a)
	bm, _ := toml.Marshal(b)
	return string(am) == string(bm)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errortypes.NewTransient("writing manifest tempfile failed").WithCause(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errortypes.NewTransient("renaming manifest into place failed").WithCause(err)
	}
	return nil
}
