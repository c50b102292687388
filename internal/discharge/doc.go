// Package discharge renders an extracted record as a plain-text discharge
// summary.
//
// Templates use {placeholder} tokens: {patient_name}, {date_of_birth},
// {mrn}, {age}, {gender}, {vital_signs}, {diagnoses}, {medications},
// {allergies}, {procedures}, {clinical_notes} and {date}. Missing scalars
// render as "N/A" and empty lists as a fixed message.
package discharge
