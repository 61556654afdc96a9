package facts

import "fmt"

// convertKilobytesToGigabytes renders a kilobyte count as a display size.
// Inputs are parsed integers; extraction already defaulted failures to 0.
func convertKilobytesToGigabytes(kb int64) string {
	return fmt.Sprintf("%.2f GB", float64(kb)/(1024.0*1024.0))
}

// convertMegabytesToGigabytes is the megabyte flavor used for page files.
func convertMegabytesToGigabytes(mb int64) string {
	return fmt.Sprintf("%.2f GB", float64(mb)/1024.0)
}
