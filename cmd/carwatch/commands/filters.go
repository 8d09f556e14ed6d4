package commands

import (
	"github.com/spf13/pflag"

	"github.com/jmylchreest/carwatch/internal/model"
)

func addFilterFlags(flags *pflag.FlagSet) {
	flags.String("make", "", "make id (see `carwatch catalog makes`)")
	flags.String("model", "", "model id (see `carwatch catalog models`)")
	flags.Int64("price-from", 0, "minimum price")
	flags.Int64("price-to", 0, "maximum price")
	flags.Int("year-from", 0, "minimum model year")
	flags.Int("year-to", 0, "maximum model year")
}

// filtersFromFlags reads only the filter flags the user set, so an
// explicit 0 is kept apart from "not given".
func filtersFromFlags(flags *pflag.FlagSet) model.Filters {
	var f model.Filters
	f.MakeID, _ = flags.GetString("make")
	f.ModelID, _ = flags.GetString("model")
	if flags.Changed("price-from") {
		v, _ := flags.GetInt64("price-from")
		f.PriceFrom = &v
	}
	if flags.Changed("price-to") {
		v, _ := flags.GetInt64("price-to")
		f.PriceTo = &v
	}
	if flags.Changed("year-from") {
		v, _ := flags.GetInt("year-from")
		f.YearFrom = &v
	}
	if flags.Changed("year-to") {
		v, _ := flags.GetInt("year-to")
		f.YearTo = &v
	}
	return f
}

func filtersChanged(flags *pflag.FlagSet) bool {
	for _, name := range []string{"make", "model", "price-from", "price-to", "year-from", "year-to"} {
		if flags.Changed(name) {
			return true
		}
	}
	return false
}
