package fel

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"strconv"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"
	"golang.org/x/text/unicode/norm"

	"github.com/eventosgt/fel-engine/internal/domain/entity"
	domainfel "github.com/eventosgt/fel-engine/internal/domain/fel"
	pkgfel "github.com/eventosgt/fel-engine/pkg/fel"
)

// Esquema GT_Documento del régimen FEL.
const (
	nsDTE      = "http://www.sat.gob.gt/dte/fel/0.2.0"
	dteVersion = "0.1"
)

// AssemblerConfig datos del emisor que van en todo DTE.
type AssemblerConfig struct {
	IssuerNIT     string
	IssuerName    string
	IssuerAddress string
	Establishment string
}

// DTEAssembler construye el XML GT_Documento de una factura. Función pura y
// determinista de la factura y sus líneas: la fecha de emisión es el
// CreatedAt de la factura, no el reloj. No toca la red.
type DTEAssembler struct {
	cfg AssemblerConfig
}

// NewDTEAssembler crea el ensamblador.
func NewDTEAssembler(cfg AssemblerConfig) *DTEAssembler {
	return &DTEAssembler{cfg: cfg}
}

// Build valida la factura y genera el DTE sin certificar más el hash SHA-256
// de su forma canónica (C14N). Entrada inválida produce AssemblyError.
func (a *DTEAssembler) Build(invoice *entity.Invoice, items []*entity.InvoiceItem) (xmlContent, certificateHash string, err error) {
	if err := domainfel.ValidateInvoice(invoice, items); err != nil {
		return "", "", &AssemblyError{Err: err}
	}
	dteCode, _ := pkgfel.DTECode(invoice.DocumentType)

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("dte:GTDocumento")
	root.CreateAttr("xmlns:dte", nsDTE)
	root.CreateAttr("Version", dteVersion)

	sat := root.CreateElement("dte:SAT")
	sat.CreateAttr("ClaseDocumento", "dte")
	dte := sat.CreateElement("dte:DTE")
	dte.CreateAttr("ID", "DatosCertificados")
	emision := dte.CreateElement("dte:DatosEmision")
	emision.CreateAttr("ID", "DatosEmision")

	currency := invoice.Currency
	if currency == "" {
		currency = pkgfel.CurrencyGTQ
	}
	generales := emision.CreateElement("dte:DatosGenerales")
	generales.CreateAttr("CodigoMoneda", currency)
	generales.CreateAttr("FechaHoraEmision", invoice.CreatedAt.Format("2006-01-02T15:04:05-07:00"))
	generales.CreateAttr("Tipo", dteCode)

	emisor := emision.CreateElement("dte:Emisor")
	emisor.CreateAttr("AfiliacionIVA", "GEN")
	emisor.CreateAttr("CodigoEstablecimiento", a.cfg.Establishment)
	emisor.CreateAttr("NITEmisor", pkgfel.NormalizeNIT(a.cfg.IssuerNIT))
	emisor.CreateAttr("NombreEmisor", norm.NFC.String(a.cfg.IssuerName))
	writeAddress(emisor, "dte:DireccionEmisor", a.cfg.IssuerAddress)

	receptor := emision.CreateElement("dte:Receptor")
	receptor.CreateAttr("IDReceptor", pkgfel.NormalizeNIT(invoice.BuyerNIT))
	receptor.CreateAttr("NombreReceptor", norm.NFC.String(invoice.BuyerName))
	writeAddress(receptor, "dte:DireccionReceptor", invoice.BuyerAddress)

	itemsEl := emision.CreateElement("dte:Items")
	for i, it := range items {
		lineTax := it.Subtotal.Mul(it.TaxRate).Round(2)
		lineTotal := it.Subtotal.Add(lineTax)

		item := itemsEl.CreateElement("dte:Item")
		item.CreateAttr("BienOServicio", "S") // entradas y servicios de eventos
		item.CreateAttr("NumeroLinea", strconv.Itoa(i+1))
		item.CreateElement("dte:Cantidad").SetText(it.Quantity.String())
		item.CreateElement("dte:UnidadMedida").SetText("UND")
		item.CreateElement("dte:Descripcion").SetText(norm.NFC.String(it.Description))
		item.CreateElement("dte:PrecioUnitario").SetText(it.UnitPrice.StringFixed(2))
		item.CreateElement("dte:Precio").SetText(it.Subtotal.StringFixed(2))
		item.CreateElement("dte:Descuento").SetText("0.00")

		impuestos := item.CreateElement("dte:Impuestos")
		impuesto := impuestos.CreateElement("dte:Impuesto")
		impuesto.CreateElement("dte:NombreCorto").SetText("IVA")
		impuesto.CreateElement("dte:CodigoUnidadGravable").SetText("1")
		impuesto.CreateElement("dte:MontoGravable").SetText(it.Subtotal.StringFixed(2))
		impuesto.CreateElement("dte:MontoImpuesto").SetText(lineTax.StringFixed(2))

		item.CreateElement("dte:Total").SetText(lineTotal.StringFixed(2))
	}

	totales := emision.CreateElement("dte:Totales")
	totalImpuestos := totales.CreateElement("dte:TotalImpuestos")
	totalIVA := totalImpuestos.CreateElement("dte:TotalImpuesto")
	totalIVA.CreateAttr("NombreCorto", "IVA")
	totalIVA.CreateAttr("TotalMontoImpuesto", invoice.TaxAmount.StringFixed(2))
	totales.CreateElement("dte:GranTotal").SetText(invoice.Total.StringFixed(2))

	doc.Indent(2)
	out, err := doc.WriteToString()
	if err != nil {
		return "", "", &AssemblyError{Err: err}
	}

	hash, err := canonicalHash([]byte(out))
	if err != nil {
		return "", "", &AssemblyError{Err: err}
	}
	return out, hash, nil
}

func writeAddress(parent *etree.Element, tag, address string) {
	dir := parent.CreateElement(tag)
	dir.CreateElement("dte:Direccion").SetText(norm.NFC.String(address))
	dir.CreateElement("dte:CodigoPostal").SetText("01001")
	dir.CreateElement("dte:Municipio").SetText("GUATEMALA")
	dir.CreateElement("dte:Departamento").SetText("GUATEMALA")
	dir.CreateElement("dte:Pais").SetText("GT")
}

// canonicalHash devuelve el SHA-256 hexadecimal de la forma canónica (C14N)
// del documento. Es el certificateHash que se guarda con el FelDocument.
func canonicalHash(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	canonical, err := c14n.Canonicalize(dec)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
