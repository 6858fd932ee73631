package pipeline

import (
	"testing"

	"github.com/malbeclabs/csvagent/pkg/tables"
	"github.com/stretchr/testify/require"
)

func TestPipeline_BuildSchemaContext(t *testing.T) {
	t.Parallel()

	itens, err := tables.NewTable("itens.csv", []string{"CHAVE DE ACESSO", "DESCRIÇÃO DO PRODUTO/SERVIÇO"}, nil)
	require.NoError(t, err)
	cabecalho, err := tables.NewTable("cabecalho.csv", []string{"CHAVE DE ACESSO", "UF EMITENTE", "VALOR NOTA FISCAL"}, nil)
	require.NoError(t, err)
	m, err := tables.NewMapping(itens, cabecalho)
	require.NoError(t, err)

	want := "Available tables and columns:\n" +
		`cabecalho.csv: ["CHAVE DE ACESSO", "UF EMITENTE", "VALOR NOTA FISCAL"]` + "\n" +
		`itens.csv: ["CHAVE DE ACESSO", "DESCRIÇÃO DO PRODUTO/SERVIÇO"]`
	require.Equal(t, want, BuildSchemaContext(m))
	require.Equal(t, BuildSchemaContext(m), BuildSchemaContext(m))
}
