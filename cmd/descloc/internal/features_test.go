package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/descloc/descloc/internal/config"
	"github.com/descloc/descloc/internal/feature"
)

func metaConfig() *config.Config {
	cfg := config.Default()
	cfg.Features.LocalModel = "r2d2"
	cfg.Features.LocalDim = 128
	cfg.Features.GlobalModel = "netvlad"
	cfg.Features.GlobalDim = 4096
	return &cfg
}

func TestVerifyFeatureMeta(t *testing.T) {
	cfg := metaConfig()
	meta := map[string]string{
		feature.MetaLocalModel:  "r2d2",
		feature.MetaLocalDim:    "128",
		feature.MetaGlobalModel: "netvlad",
		feature.MetaGlobalDim:   "4096",
	}
	require.NoError(t, VerifyFeatureMeta(meta, cfg))

	// Stores without recorded meta pass every check.
	require.NoError(t, VerifyFeatureMeta(map[string]string{}, cfg))
}

func TestVerifyFeatureMetaLocalMismatch(t *testing.T) {
	cfg := metaConfig()

	err := VerifyFeatureMeta(map[string]string{feature.MetaLocalDim: "512"}, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "512-dim local")

	err = VerifyFeatureMeta(map[string]string{feature.MetaLocalModel: "d2net"}, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "d2net")

	err = VerifyFeatureMeta(map[string]string{feature.MetaLocalDim: "not-a-number"}, cfg)
	require.Error(t, err)
}

func TestVerifyFeatureMetaGlobalOnlyWhenFused(t *testing.T) {
	cfg := metaConfig()
	meta := map[string]string{feature.MetaGlobalDim: "2048"}

	// Global meta is ignored while fusion does not use it.
	require.NoError(t, VerifyFeatureMeta(meta, cfg))

	cfg.Fusion.UseGlobal = true
	err := VerifyFeatureMeta(meta, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2048-dim global")

	// An unset global_dim skips the dimension check but still checks
	// the model name.
	cfg.Features.GlobalDim = 0
	require.NoError(t, VerifyFeatureMeta(meta, cfg))
	err = VerifyFeatureMeta(map[string]string{feature.MetaGlobalModel: "eigenplaces"}, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eigenplaces")
}
