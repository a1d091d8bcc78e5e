//go:build !cgo || nonetcdf

package netcdf4
