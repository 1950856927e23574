package stt

var GetAudioEncoding = getAudioEncoding
