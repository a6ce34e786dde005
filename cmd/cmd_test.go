package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penwyp/peakcat/config"
	"github.com/penwyp/peakcat/models"
	"github.com/penwyp/peakcat/pipeline"
)

func TestQuestionCommandsRegistered(t *testing.T) {
	for _, def := range pipeline.Questions() {
		c, _, err := rootCmd.Find([]string{def.ID})
		require.NoError(t, err, def.ID)
		assert.Equal(t, def.ID, c.Name())
		assert.NotNil(t, c.Flags().Lookup("start"))
		assert.NotNil(t, c.Flags().Lookup("tz-offset"))
		assert.Equal(t, def.UsesLimit, c.Flags().Lookup("limit") != nil, def.ID)
		assert.Equal(t, def.UsesCutoff, c.Flags().Lookup("cutoff") != nil, def.ID)
	}
	for _, name := range []string{"serve", "questions", "version", "cache"} {
		_, _, err := rootCmd.Find([]string{name})
		assert.NoError(t, err, name)
	}
}

func TestQueryFlags(t *testing.T) {
	def, ok := pipeline.Lookup(pipeline.QuestionAppLoadP95)
	require.True(t, ok)
	c := newQuestionCmd(def)
	require.NoError(t, c.ParseFlags([]string{
		"--start", "2025-10-01", "--end", "2025-10-08T00:00:00Z",
		"--tz-offset", "-300", "--cutoff", "2025-10-04 12:00", "--force-refresh",
	}))

	f := &queryFlags{}
	f.start, _ = c.Flags().GetString("start")
	f.end, _ = c.Flags().GetString("end")
	f.cutoff, _ = c.Flags().GetString("cutoff")
	f.tzOffset, _ = c.Flags().GetInt("tz-offset")
	f.forceRefresh, _ = c.Flags().GetBool("force-refresh")

	q, err := f.query(c, def)
	require.NoError(t, err)
	assert.Equal(t, def.ID, q.Question)
	assert.True(t, q.Start.Equal(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, q.Cutoff.Equal(time.Date(2025, 10, 4, 12, 0, 0, 0, time.UTC)))
	require.NotNil(t, q.OffsetMinutes)
	assert.Equal(t, -300, *q.OffsetMinutes)
	assert.True(t, q.ForceRefresh)

	f.start = "last week"
	_, err = f.query(c, def)
	assert.Error(t, err)
}

func TestQueryFlagsOffsetUnset(t *testing.T) {
	def, _ := pipeline.Lookup(pipeline.QuestionOrderPeakHours)
	c := newQuestionCmd(def)
	require.NoError(t, c.ParseFlags(nil))

	q, err := (&queryFlags{}).query(c, def)
	require.NoError(t, err)
	assert.Nil(t, q.OffsetMinutes)
}

func TestNewCacheManagerBackends(t *testing.T) {
	for _, backend := range []config.CacheBackend{config.CacheMemory, config.CacheFile, config.CacheBadger} {
		t.Run(string(backend), func(t *testing.T) {
			cfg := config.DefaultConfig().Cache
			cfg.Backend = backend
			cfg.Dir = t.TempDir()
			m, err := newCacheManager(cfg)
			require.NoError(t, err)
			assert.NoError(t, m.Clear())
			assert.NoError(t, m.Close())
		})
	}
}

func TestNewApplicationRejectsBadURL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Source.BaseURL = "not a url"
	_, err := newApplication(cfg)
	assert.Error(t, err)
}

func TestRunQuestionFromLocalFiles(t *testing.T) {
	dir := t.TempDir()
	csvBody := "id_compra,fecha_creacion,total_cop\n" +
		"1,2025-10-02 12:10:00,1000\n" +
		"2,2025-10-02 12:40:00,2000\n" +
		"3,2025-10-03 19:05:00,3000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, pipeline.SourceOrders+".csv"), []byte(csvBody), 0o644))
	t.Setenv("PEAKCAT_CACHE_BACKEND", "memory")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		pipeline.QuestionOrderPeakHours,
		"--local-dir", dir,
		"--start", "2025-10-01", "--end", "2025-10-08",
		"--output", "json",
	})
	defer rootCmd.SetArgs(nil)
	require.NoError(t, Execute())

	var res models.Result
	require.NoError(t, sonic.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, models.ProvenanceFallback, res.Provenance)
	assert.True(t, res.Stale)
	assert.Equal(t, 3, res.Summary.TotalCount)
	assert.Len(t, res.Tables["hourly"], 24)
	assert.Equal(t, "12", res.Summary.BusiestKey)
}

func TestWriteVersion(t *testing.T) {
	b := buildInfo{Version: "v1.2.0", Commit: "abc123", GoVersion: "go1.24.4", Platform: "linux/amd64"}

	var buf bytes.Buffer
	require.NoError(t, writeVersion(&buf, b, false, true))
	assert.Equal(t, "v1.2.0\n", buf.String())

	buf.Reset()
	require.NoError(t, writeVersion(&buf, b, false, false))
	assert.Contains(t, buf.String(), "peakcat v1.2.0 (go1.24.4, linux/amd64)")
	assert.Contains(t, buf.String(), "commit: abc123")
	assert.NotContains(t, buf.String(), "built:")

	buf.Reset()
	require.NoError(t, writeVersion(&buf, b, true, false))
	var decoded map[string]string
	require.NoError(t, sonic.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "abc123", decoded["commit"])
	_, hasBuilt := decoded["built_at"]
	assert.False(t, hasBuilt)
}
