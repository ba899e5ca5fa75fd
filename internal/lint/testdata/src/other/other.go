package other

func Subscribe(interest string) {}

func New(instanceID string) {}
