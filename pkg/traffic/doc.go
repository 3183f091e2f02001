// Package traffic manages live traffic splits between service versions.
package traffic
