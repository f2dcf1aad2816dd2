package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"fieldroute/internal/models"
)

// CentroidTable maps normalized place names to a representative coordinate
type CentroidTable map[string]models.Coordinates

// Lookup returns the centroid for a city or province name, ignoring case and accents
func (t CentroidTable) Lookup(name string) (models.Coordinates, bool) {
	key := NormalizeName(name)
	if key == "" {
		return models.Coordinates{}, false
	}
	c, ok := t[key]
	return c, ok
}

// NormalizeName lowercases a place name, strips diacritics and collapses whitespace
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}
	return strings.Join(strings.Fields(strings.ToLower(stripped)), " ")
}

// NewCentroidTable builds a table from display names, normalizing every key
func NewCentroidTable(entries map[string]models.Coordinates) CentroidTable {
	t := make(CentroidTable, len(entries))
	for name, c := range entries {
		t[NormalizeName(name)] = c
	}
	return t
}

// DefaultCentroids covers the Spanish provinces (by capital) plus the Huelva
// towns the sales teams visit most.
func DefaultCentroids() CentroidTable {
	return NewCentroidTable(map[string]models.Coordinates{
		"A Coruña":               {Lat: 43.3623, Lng: -8.4115},
		"Álava":                  {Lat: 42.8467, Lng: -2.6716},
		"Vitoria-Gasteiz":        {Lat: 42.8467, Lng: -2.6716},
		"Albacete":               {Lat: 38.9943, Lng: -1.8585},
		"Alicante":               {Lat: 38.3452, Lng: -0.4810},
		"Almería":                {Lat: 36.8340, Lng: -2.4637},
		"Asturias":               {Lat: 43.3614, Lng: -5.8593},
		"Oviedo":                 {Lat: 43.3614, Lng: -5.8593},
		"Ávila":                  {Lat: 40.6565, Lng: -4.6818},
		"Badajoz":                {Lat: 38.8794, Lng: -6.9707},
		"Barcelona":              {Lat: 41.3874, Lng: 2.1686},
		"Burgos":                 {Lat: 42.3439, Lng: -3.6969},
		"Cáceres":                {Lat: 39.4753, Lng: -6.3724},
		"Cádiz":                  {Lat: 36.5271, Lng: -6.2886},
		"Cantabria":              {Lat: 43.4623, Lng: -3.8099},
		"Santander":              {Lat: 43.4623, Lng: -3.8099},
		"Castellón":              {Lat: 39.9864, Lng: -0.0513},
		"Ciudad Real":            {Lat: 38.9848, Lng: -3.9274},
		"Córdoba":                {Lat: 37.8882, Lng: -4.7794},
		"Cuenca":                 {Lat: 40.0704, Lng: -2.1374},
		"Girona":                 {Lat: 41.9794, Lng: 2.8214},
		"Granada":                {Lat: 37.1773, Lng: -3.5986},
		"Guadalajara":            {Lat: 40.6333, Lng: -3.1667},
		"Gipuzkoa":               {Lat: 43.3183, Lng: -1.9812},
		"San Sebastián":          {Lat: 43.3183, Lng: -1.9812},
		"Huelva":                 {Lat: 37.2614, Lng: -6.9447},
		"Huesca":                 {Lat: 42.1401, Lng: -0.4089},
		"Illes Balears":          {Lat: 39.5696, Lng: 2.6502},
		"Palma":                  {Lat: 39.5696, Lng: 2.6502},
		"Jaén":                   {Lat: 37.7796, Lng: -3.7849},
		"La Rioja":               {Lat: 42.4627, Lng: -2.4450},
		"Logroño":                {Lat: 42.4627, Lng: -2.4450},
		"Las Palmas":             {Lat: 28.1235, Lng: -15.4363},
		"León":                   {Lat: 42.5987, Lng: -5.5671},
		"Lleida":                 {Lat: 41.6176, Lng: 0.6200},
		"Lugo":                   {Lat: 43.0097, Lng: -7.5568},
		"Madrid":                 {Lat: 40.4168, Lng: -3.7038},
		"Málaga":                 {Lat: 36.7213, Lng: -4.4214},
		"Murcia":                 {Lat: 37.9922, Lng: -1.1307},
		"Navarra":                {Lat: 42.8125, Lng: -1.6458},
		"Pamplona":               {Lat: 42.8125, Lng: -1.6458},
		"Ourense":                {Lat: 42.3358, Lng: -7.8639},
		"Palencia":               {Lat: 42.0095, Lng: -4.5288},
		"Pontevedra":             {Lat: 42.4310, Lng: -8.6444},
		"Salamanca":              {Lat: 40.9701, Lng: -5.6635},
		"Santa Cruz de Tenerife": {Lat: 28.4636, Lng: -16.2518},
		"Segovia":                {Lat: 40.9429, Lng: -4.1088},
		"Sevilla":                {Lat: 37.3891, Lng: -5.9845},
		"Soria":                  {Lat: 41.7665, Lng: -2.4790},
		"Tarragona":              {Lat: 41.1189, Lng: 1.2445},
		"Teruel":                 {Lat: 40.3456, Lng: -1.1065},
		"Toledo":                 {Lat: 39.8628, Lng: -4.0273},
		"Valencia":               {Lat: 39.4699, Lng: -0.3763},
		"Valladolid":             {Lat: 41.6523, Lng: -4.7245},
		"Bizkaia":                {Lat: 43.2630, Lng: -2.9350},
		"Bilbao":                 {Lat: 43.2630, Lng: -2.9350},
		"Zamora":                 {Lat: 41.5033, Lng: -5.7446},
		"Zaragoza":               {Lat: 41.6488, Lng: -0.8891},
		"Ceuta":                  {Lat: 35.8894, Lng: -5.3213},
		"Melilla":                {Lat: 35.2923, Lng: -2.9381},

		"Lepe":                      {Lat: 37.2548, Lng: -7.2037},
		"Ayamonte":                  {Lat: 37.2133, Lng: -7.4061},
		"Isla Cristina":             {Lat: 37.1992, Lng: -7.3209},
		"Cartaya":                   {Lat: 37.2833, Lng: -7.1500},
		"Moguer":                    {Lat: 37.2755, Lng: -6.8384},
		"Palos de la Frontera":      {Lat: 37.2287, Lng: -6.8936},
		"Almonte":                   {Lat: 37.2642, Lng: -6.5167},
		"Bollullos Par del Condado": {Lat: 37.3405, Lng: -6.5393},
		"La Palma del Condado":      {Lat: 37.3856, Lng: -6.5522},
		"Valverde del Camino":       {Lat: 37.5753, Lng: -6.7542},
		"Aracena":                   {Lat: 37.8934, Lng: -6.5613},
		"Punta Umbría":              {Lat: 37.1822, Lng: -6.9667},
		"Gibraleón":                 {Lat: 37.3764, Lng: -6.9700},
		"Aljaraque":                 {Lat: 37.2697, Lng: -7.0231},
		"San Juan del Puerto":       {Lat: 37.3167, Lng: -6.8417},
		"Jerez de la Frontera":      {Lat: 36.6850, Lng: -6.1261},
	})
}
