package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
aets:
  - aet: ORTHANC
    backend: DIMSE
    dimse:
      host: orthanc.local
      port: 4242
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DICOM-RST", cfg.Server.AET)
	assert.Equal(t, 8080, cfg.Server.HTTP.Port)
	assert.Equal(t, int64(50*1024*1024), cfg.Server.HTTP.MaxUploadSize)
}

func TestValidateRejectsSequentialWithoutReceivers(t *testing.T) {
	path := writeTempConfig(t, `
aets:
  - aet: SEQPACS
    backend: DIMSE
    dimse:
      host: seqpacs.local
      port: 104
    wado-rs:
      mode: Sequential
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsPluginBackendWithoutPluginPath(t *testing.T) {
	path := writeTempConfig(t, `
aets:
  - aet: EXOTIC
    backend: Plugin
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.AETs = []AETConfig{{
		AET:     "ORTHANC",
		Backend: BackendDIMSE,
		DIMSE:   DIMSEBackend{Host: "orthanc.local", Port: 4242},
	}}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Server.AET, loaded.Server.AET)
	assert.Equal(t, cfg.Server.HTTP.Port, loaded.Server.HTTP.Port)
	assert.Equal(t, cfg.Server.HTTP.RequestTimeout, loaded.Server.HTTP.RequestTimeout)
	require.Len(t, loaded.AETs, 1)
	assert.Equal(t, "orthanc.local", loaded.AETs[0].DIMSE.Host)
}

func TestValidateRejectsS3BackendWithoutBucket(t *testing.T) {
	path := writeTempConfig(t, `
aets:
  - aet: ARCHIVE
    backend: S3
`)
	_, err := Load(path)
	assert.Error(t, err)
}
