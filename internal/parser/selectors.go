package parser

import "regexp"

// Site binding for turbo.az markup. Everything that depends on the page
// structure lives here.
const (
	selItem       = ".products-i"
	selLink       = "a.products-i__link"
	selName       = ".products-i__name"
	selPrice      = ".products-i__price"
	selAttributes = ".products-i__attributes"
	selLocation   = ".products-i__datetime"

	classVIP     = "vipped"
	classPremium = "featured"

	selPagination = ".pagination a[href], .pager a[href], a[href*='page=']"

	selMakeOptions  = "select#q_make option, select[name='q[make][]'] option"
	selModelOptions = "select#q_model option, select[name='q[model][]'] option"

	listingPathPrefix = "autos"
)

var (
	viewsPattern = regexp.MustCompile(`Baxışların sayı[:\s]*(\d[\d ]*)`)
	yearPattern  = regexp.MustCompile(`^\d{4}$`)
	digits       = regexp.MustCompile(`\d+`)
)

// currencyMarkers are checked in order; the first hit wins.
var currencyMarkers = []struct {
	code    string
	markers []string
}{
	{"AZN", []string{"₼", "AZN"}},
	{"USD", []string{"$", "USD"}},
	{"EUR", []string{"€", "EUR"}},
}

// DefaultCurrency is assumed when a price carries no recognizable marker.
const DefaultCurrency = "AZN"
