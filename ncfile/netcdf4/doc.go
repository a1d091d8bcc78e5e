// Package netcdf4 registers the "netcdf4" array-file format with ncfile.
// It reads any file libnetcdf understands (classic, 64-bit offset,
// NetCDF-4) and writes NetCDF-4 files with per-variable chunking and
// deflate, which is what CMIP6 data nodes publish.
//
// The format needs cgo and libnetcdf (found through pkg-config). Builds
// without cgo, or with the nonetcdf tag, leave it unregistered and
// ncfile.Default reports it as unknown.
//
// libnetcdf is not safe for concurrent use; every call into it is
// serialised on a package lock.
package netcdf4
