package catalog

import (
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Holder serves the current catalog and swaps it atomically when the
// backing file changes. Reloads that fail validation are ignored.
type Holder struct {
	current atomic.Value // holds Catalog
	source  string
}

// NewStaticHolder wraps a fixed catalog.
func NewStaticHolder(c Catalog) (*Holder, error) {
	c = c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	h := &Holder{source: "static"}
	h.current.Store(c)
	return h, nil
}

// LoadHolder reads catalog.yml from path (a file or a directory) and the
// usual config directories. Without a file the default catalog is used.
func LoadHolder(path string, log *zap.Logger) (*Holder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("catalog")

	v := viper.New()
	path = strings.TrimSpace(path)
	switch {
	case path != "" && filepath.Ext(path) != "":
		v.SetConfigFile(path)
	default:
		v.SetConfigName("catalog")
		v.SetConfigType("yml")
		if path != "" {
			v.AddConfigPath(path)
		}
		v.AddConfigPath("/etc/tumblebus")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("catalog file not found, using defaults")
		return NewStaticHolder(Default())
	}

	c, err := decode(v)
	if err != nil {
		return nil, err
	}

	h := &Holder{source: v.ConfigFileUsed()}
	h.current.Store(c)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decode(v)
		if err != nil {
			log.Warn("catalog reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		h.current.Store(updated)
		log.Info("catalog reloaded", zap.String("file", e.Name))
	})

	return h, nil
}

func decode(v *viper.Viper) (Catalog, error) {
	var c Catalog
	if err := v.UnmarshalKey("catalog", &c); err != nil {
		return Catalog{}, err
	}
	c = c.Normalize()
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

func (h *Holder) Get() Catalog {
	return h.current.Load().(Catalog)
}

func (h *Holder) Source() string {
	return h.source
}
