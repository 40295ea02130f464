// Package i18n selects plural message cases using CLDR cardinal rules.
//
// Case keys are either exact values ("=0", "=1.5") or category names
// ("zero", "one", "two", "few", "many", "other"). Every function takes an explicit
// locale; there is no process-wide default.
package i18n
