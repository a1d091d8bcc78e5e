package continuity

import (
	"github.com/INLOpen/cmip6kit/internal/logging"
)

// Report prints the dataset directory followed by one indented line per
// finding. Clean results print nothing.
func Report(c *logging.Console, res Result) {
	if res.OK() {
		return
	}
	c.Println(res.Dir)
	for _, f := range res.Findings {
		c.Println("   " + f.render(c))
	}
}
