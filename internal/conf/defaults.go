package conf

import "github.com/spf13/viper"

// setDefaultConfig sets the default values for each configuration parameter.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("engine.clientname", "jackbridge")
	viper.SetDefault("engine.device", "default")
	viper.SetDefault("engine.channels", 2)
	viper.SetDefault("engine.startserver", false)
	viper.SetDefault("engine.samplerate", 48000)
	viper.SetDefault("engine.periodsize", 480)

	viper.SetDefault("consumer.pollintervalms", 20)

	viper.SetDefault("sink.type", "discard")
	viper.SetDefault("sink.wav.path", "capture.wav")
	viper.SetDefault("sink.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("sink.mqtt.topic", "jackbridge/levels")
	viper.SetDefault("sink.mqtt.clientid", "jackbridge")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "localhost:9090")
}
