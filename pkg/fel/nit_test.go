package fel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eventosgt/fel-engine/pkg/fel"
)

// TestValidateNIT_Validos verifica NITs con dígito verificador correcto
// (módulo 11; el residuo 10 produce la letra K).
func TestValidateNIT_Validos(t *testing.T) {
	valid := []string{
		"12345679",  // verificador 9
		"1234561K",  // residuo 10 → K
		"5281253",   // verificador 3
		"1234561-K", // con guión, se normaliza
		"CF",        // consumidor final
		"cf",        // consumidor final en minúsculas
	}
	for _, nit := range valid {
		assert.NoError(t, fel.ValidateNIT(nit), "NIT %q debe ser válido", nit)
	}
}

func TestValidateNIT_Invalidos(t *testing.T) {
	invalid := []string{
		"",
		"1",
		"12345678",  // verificador incorrecto
		"1234561-0", // debería ser K
		"ABC123K",   // cuerpo no numérico
	}
	for _, nit := range invalid {
		assert.Error(t, fel.ValidateNIT(nit), "NIT %q debe ser inválido", nit)
	}
}

func TestNormalizeNIT(t *testing.T) {
	assert.Equal(t, "1234561K", fel.NormalizeNIT(" 1234561-k "))
	assert.Equal(t, "CF", fel.NormalizeNIT("cf"))
}

func TestDTECode(t *testing.T) {
	code, ok := fel.DTECode(fel.DocTypeFactura)
	assert.True(t, ok)
	assert.Equal(t, "FACT", code)

	code, ok = fel.DTECode(fel.DocTypeNotaCredito)
	assert.True(t, ok)
	assert.Equal(t, "NCRE", code)

	_, ok = fel.DTECode("RECIBO")
	assert.False(t, ok, "tipos no catalogados no deben tener código DTE")
}
