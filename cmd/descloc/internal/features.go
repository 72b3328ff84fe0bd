package internal

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/descloc/descloc/internal/config"
	"github.com/descloc/descloc/internal/feature"
)

// VerifyFeatureMeta cross-checks the extractor settings recorded in the
// feature store against the config. A model or dimension mismatch means
// the store was extracted for a different setup, so commands refuse to
// run instead of producing silently wrong descriptors. Keys the store
// does not record are not checked.
func VerifyFeatureMeta(meta map[string]string, cfg *config.Config) error {
	if v, ok := meta[feature.MetaLocalDim]; ok {
		dim, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "feature store records invalid %s %q", feature.MetaLocalDim, v)
		}
		if dim != cfg.Features.LocalDim {
			return errors.Errorf("feature store holds %d-dim local descriptors, config expects %d", dim, cfg.Features.LocalDim)
		}
	}
	if v, ok := meta[feature.MetaLocalModel]; ok && cfg.Features.LocalModel != "" && v != cfg.Features.LocalModel {
		return errors.Errorf("feature store was extracted with local model %q, config names %q", v, cfg.Features.LocalModel)
	}

	if !cfg.Fusion.UseGlobal {
		return nil
	}
	if v, ok := meta[feature.MetaGlobalDim]; ok && cfg.Features.GlobalDim > 0 {
		dim, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "feature store records invalid %s %q", feature.MetaGlobalDim, v)
		}
		if dim != cfg.Features.GlobalDim {
			return errors.Errorf("feature store holds %d-dim global descriptors, config expects %d", dim, cfg.Features.GlobalDim)
		}
	}
	if v, ok := meta[feature.MetaGlobalModel]; ok && cfg.Features.GlobalModel != "" && v != cfg.Features.GlobalModel {
		return errors.Errorf("feature store was extracted with global model %q, config names %q", v, cfg.Features.GlobalModel)
	}
	return nil
}
