// Package hl7v2 adds HL7 v2.x (ER7 pipe-delimited) support to xchannel.
//
// Importing the package registers, under data type "HL7V2":
//   - a Codec that parses ER7 into *Message
//   - a batch adaptor splitting files on MSH segments
//   - a response validator bucketing MSA-1 codes
//   - an auto-responder producing ACK messages, honoring MSH-15
//
// Validator properties: success_codes, error_codes, queue_codes,
// validate_control_id. Responder properties: success_code, error_code,
// reject_code, success_message, error_message, reject_message, use_msh15,
// time_format.
package hl7v2
