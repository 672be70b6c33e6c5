// Package source provides built-in catalog sources.
//
// A catalog source supplies the spawnable entity pool, the rarity settings
// with their daily counters, and the ban list. The package includes:
//
//   - Static: in-memory catalog, optionally loaded from a YAML file
//
// Custom sources can be implemented by satisfying types.PoolSource,
// types.SettingsSource and types.BanChecker.
package source
