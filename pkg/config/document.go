package config

import (
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override keys of the
// configuration document, e.g. XETRA_S3_SECRET_KEY for s3.secret_key.
const EnvPrefix = "XETRA"

// Top-level sections of the job configuration.
const (
	SectionLogging = "logging"
	SectionS3      = "s3"
	SectionSource  = "source"
	SectionTarget  = "target"
	SectionMeta    = "meta"
	SectionMetrics = "metrics"
	SectionTracing = "tracing"
	SectionJob     = "job"
)

// Document is a parsed configuration file. The tree returned by Tree is the
// document exactly as parsed; Section returns a sub-tree with environment
// overrides applied.
type Document struct {
	path string
	tree map[string]interface{}
	v    *viper.Viper
}

func newDocument(path string, tree map[string]interface{}) *Document {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// viper lower-cases the map it is given in place; hand it a copy so the
	// parsed tree stays as written. MergeConfigMap only fails for nil maps.
	_ = v.MergeConfigMap(deepCopy(tree))

	return &Document{path: path, tree: tree, v: v}
}

// NewDocument wraps an already parsed tree, for callers that build the
// configuration in code.
func NewDocument(tree map[string]interface{}) *Document {
	if tree == nil {
		tree = make(map[string]interface{})
	}
	return newDocument("", tree)
}

// Path returns the file the document was loaded from.
func (d *Document) Path() string {
	return d.path
}

// Tree returns the parsed document. Callers must not modify it.
func (d *Document) Tree() map[string]interface{} {
	return d.tree
}

// Has reports whether the top-level key is present in the document.
func (d *Document) Has(section string) bool {
	_, ok := d.tree[section]
	return ok
}

// Keys returns the top-level keys in sorted order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.tree))
	for k := range d.tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Section returns the named sub-tree with XETRA_* environment overrides
// applied to the keys it already contains. The second result is false when
// the section is absent from the document.
//
// Keys keep the case they were written with, so strict decoding still sees a
// misspelt Src_Col_Date. Only lower-case scalar keys can be overridden.
func (d *Document) Section(section string) (map[string]interface{}, bool) {
	raw, ok := d.tree[section]
	if !ok {
		return nil, false
	}
	fields, isMap := raw.(map[string]interface{})
	if !isMap {
		return nil, true
	}

	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = deepCopyValue(v)
		if _, nested := v.(map[string]interface{}); nested || k != strings.ToLower(k) || strings.Contains(k, ".") {
			continue
		}
		out[k] = d.v.Get(strings.ToLower(section) + "." + k)
	}
	return out, true
}

// String returns the value at a dotted key such as "meta.meta_key", with
// environment overrides applied.
func (d *Document) String(key string) string {
	return d.v.GetString(key)
}

func deepCopy(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopy(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
