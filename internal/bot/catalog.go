package bot

import (
	"fmt"
	"strings"

	"github.com/nexguard/nexbot/internal/config"
)

// Catalog is the set of package options offered by the order workflow.
type Catalog struct {
	Currency  string
	Durations []config.CatalogOption
	Devices   []config.CatalogOption
	Usages    []config.CatalogOption
}

// NewCatalog builds a Catalog from configuration.
func NewCatalog(cc config.CatalogConfig) *Catalog {
	return &Catalog{
		Currency:  cc.Currency,
		Durations: cc.Durations,
		Devices:   cc.Devices,
		Usages:    cc.Usages,
	}
}

func lookup(opts []config.CatalogOption, key string) (config.CatalogOption, bool) {
	for _, o := range opts {
		if o.Key == key {
			return o, true
		}
	}
	return config.CatalogOption{}, false
}

// Duration returns the duration option selected by key.
func (c *Catalog) Duration(key string) (config.CatalogOption, bool) { return lookup(c.Durations, key) }

// Device returns the device option selected by key.
func (c *Catalog) Device(key string) (config.CatalogOption, bool) { return lookup(c.Devices, key) }

// Usage returns the usage option selected by key.
func (c *Catalog) Usage(key string) (config.CatalogOption, bool) { return lookup(c.Usages, key) }

// Price renders an amount in the catalog currency.
func (c *Catalog) Price(amount int) string {
	return fmt.Sprintf("%s %d", c.Currency, amount)
}

// DurationMenu is the prompt of the order_duration step.
func (c *Catalog) DurationMenu() string {
	return c.menu("Select Package Duration", c.Durations, false)
}

// DeviceMenu is the prompt of the order_device step.
func (c *Catalog) DeviceMenu() string {
	return c.menu("Select Your Device Type", c.Devices, false)
}

// UsageMenu is the prompt of the order_usage step.
func (c *Catalog) UsageMenu() string {
	return c.menu("Select Usage Type", c.Usages, true)
}

func (c *Catalog) menu(title string, opts []config.CatalogOption, priced bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n", title)
	for _, o := range opts {
		if priced {
			fmt.Fprintf(&b, "*%s.* %s - %s\n", o.Key, o.Name, c.Price(o.Price))
		} else {
			fmt.Fprintf(&b, "*%s.* %s\n", o.Key, o.Name)
		}
	}
	b.WriteString("\n_Type the number of your choice._")
	return b.String()
}
