// Package fel contiene reglas y catálogos del régimen FEL de Guatemala
// (Factura Electrónica en Línea, SAT). Sin dependencias de infraestructura.
package fel

import (
	"fmt"
	"strings"
)

// NITConsumidorFinal es el identificador especial para ventas a consumidor
// final sin NIT ("CF"). No lleva dígito verificador.
const NITConsumidorFinal = "CF"

// NormalizeNIT limpia un NIT: quita guiones y espacios, pasa a mayúsculas.
// "1234567-K" → "1234567K", "cf" → "CF".
func NormalizeNIT(nit string) string {
	s := strings.ToUpper(strings.TrimSpace(nit))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// ValidateNIT valida un NIT guatemalteco con su dígito verificador (módulo 11).
// El último carácter es el verificador: 0-9 o K (cuando el residuo es 10).
// Acepta "CF" (consumidor final) como válido.
func ValidateNIT(nit string) error {
	s := NormalizeNIT(nit)
	if s == "" {
		return fmt.Errorf("fel: NIT vacío")
	}
	if s == NITConsumidorFinal {
		return nil
	}
	if len(s) < 2 {
		return fmt.Errorf("fel: NIT %q demasiado corto", nit)
	}

	body := s[:len(s)-1]
	check := s[len(s)-1]

	// El cuerpo debe ser numérico.
	var sum, weight int
	weight = 2
	for i := len(body) - 1; i >= 0; i-- {
		c := body[i]
		if c < '0' || c > '9' {
			return fmt.Errorf("fel: NIT %q contiene caracteres no numéricos", nit)
		}
		sum += int(c-'0') * weight
		weight++
	}

	expected := (11 - (sum % 11)) % 11
	var expectedChar byte
	if expected == 10 {
		expectedChar = 'K'
	} else {
		expectedChar = byte('0' + expected)
	}
	if check != expectedChar {
		return fmt.Errorf("fel: dígito verificador inválido en NIT %q (esperado %c)", nit, expectedChar)
	}
	return nil
}
