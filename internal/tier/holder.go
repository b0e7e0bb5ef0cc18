package tier

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shortyai/creditdesk/internal/config"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("tier.catalog",
	fx.Provide(provideHolder),
)

// Source yields the catalog currently in effect.
type Source interface {
	Catalog() Catalog
}

// Holder keeps the live catalog and swaps it when tiers.yml changes.
type Holder struct {
	current atomic.Value // holds Catalog
}

func NewStaticHolder(c Catalog) *Holder {
	h := &Holder{}
	h.current.Store(c)
	return h
}

func (h *Holder) Catalog() Catalog {
	return h.current.Load().(Catalog)
}

func provideHolder(cfg config.Config, log *zap.Logger) (Source, error) {
	return NewHolder(cfg.Tiers.ConfigPaths, log.Named("tier.catalog"))
}

// NewHolder reads tiers.yml from the first matching path; defaults apply when no file exists.
func NewHolder(paths []string, log *zap.Logger) (*Holder, error) {
	v := viper.New()
	v.SetConfigName("tiers")
	v.SetConfigType("yml")
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("tiers.yml not found, using default catalog")
		return NewStaticHolder(DefaultCatalog()), nil
	}

	catalog, err := decode(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticHolder(catalog)

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decode(v)
		if err != nil {
			log.Warn("tier catalog reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("tier catalog reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func decode(v *viper.Viper) (Catalog, error) {
	var catalog Catalog
	if err := v.Unmarshal(&catalog); err != nil {
		return Catalog{}, err
	}
	if err := catalog.Validate(); err != nil {
		return Catalog{}, err
	}
	return catalog, nil
}
