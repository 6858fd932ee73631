package tables

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader(LoaderConfig{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestTables_Loader_Load(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notas.csv"), []byte(
		"CHAVE DE ACESSO,UF,VALOR\n"+
			"35240112345678000190550010000000011000000010,SP,100\n"+
			"33240112345678000190550010000000021000000020,RJ,50\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vazio.csv"), nil, 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m, msgs, err := newTestLoader(t).Load(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, []string{"notas.csv"}, m.Names())

	require.Len(t, msgs, 1)
	require.Equal(t, LevelWarning, msgs[0].Level)
	require.Contains(t, msgs[0].Text, "vazio.csv")

	tbl, ok := m.Get("notas.csv")
	require.True(t, ok)
	require.Equal(t, []string{"CHAVE DE ACESSO", "UF", "VALOR"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	require.Equal(t, "35240112345678000190550010000000011000000010", tbl.Rows[0][0])
	require.Equal(t, "SP", tbl.Rows[0][1])
	require.Equal(t, int64(100), tbl.Rows[0][2])
}

func TestTables_Loader_KeepsDatesAsText(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "itens.csv"), []byte(
		"CLIENTE,DATA,PRODUTO,EMISSAO\n"+
			"Ana,15/02/2024,Caneta,2024-02-15\n"+
			"Bia,03/03/2024,Lápis,2024-03-03\n"), 0o644))

	m, _, err := newTestLoader(t).Load(context.Background(), dir)
	require.NoError(t, err)

	tbl, ok := m.Get("itens.csv")
	require.True(t, ok)
	require.Equal(t, "15/02/2024", tbl.Rows[0][1])
	require.Equal(t, "2024-02-15", tbl.Rows[0][3])
}

func TestTables_Loader_NoValidFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vazio.csv"), nil, 0o644))

	m, msgs, err := newTestLoader(t).Load(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 0, m.Len())
	require.Len(t, msgs, 2)
	require.Equal(t, LevelError, msgs[1].Level)
	require.Contains(t, msgs[1].Text, "Nenhum CSV válido")
}

func TestTables_Loader_ConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := LoaderConfig{}
	require.Error(t, cfg.Validate())

	cfg = LoaderConfig{Logger: logger}
	require.NoError(t, cfg.Validate())
	require.Equal(t, defaultLoadPoolSize, cfg.PoolSize)
	require.Equal(t, DefaultTextColumns, cfg.TextColumns)
}

func TestTables_TextOverrides(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", textOverrides([]string{"VALOR"}, DefaultTextColumns))
	require.Equal(t, ", types={'CHAVE DE ACESSO': 'VARCHAR'}", textOverrides([]string{"CHAVE DE ACESSO", "VALOR"}, DefaultTextColumns))
}

func TestTables_NormalizeValue(t *testing.T) {
	t.Parallel()

	require.Equal(t, int64(3), normalizeValue(int32(3)))
	require.Equal(t, float64(1.5), normalizeValue(float32(1.5)))
	require.Equal(t, "abc", normalizeValue([]byte("abc")))
	require.Nil(t, normalizeValue(nil))
	require.Equal(t, 2.5, normalizeValue(decimalLike{2.5}))
	require.Equal(t, "2024-02-15", normalizeValue(time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, "2024-02-15 10:30:00", normalizeValue(time.Date(2024, 2, 15, 10, 30, 0, 0, time.UTC)))
}

type decimalLike struct{ v float64 }

func (d decimalLike) Float64() float64 { return d.v }
